package vkr

import (
	"sort"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// BindSlot is one merged resource slot across all stages of a shader.
type BindSlot struct {
	Name   string
	Kind   BindKind
	Slot   uint32
	Stages ShaderStage
}

// BindLayout is the merged binding table of a shader plus its backend
// descriptor set layout. Slots are sorted by slot index.
type BindLayout struct {
	Slots    []BindSlot
	VKLayout vk.DescriptorSetLayout

	// Push is set when the layout was created for push descriptors.
	Push   bool
	byName map[string]int
}

// mergeBindings collapses per-stage binding records into one table.
// The same slot may appear for several stages; its name and kind must
// agree, and the visibility masks are combined.
func mergeBindings(bindings []ShaderBinding) ([]BindSlot, error) {
	bySlot := map[uint32]*BindSlot{}
	for _, b := range bindings {
		existing, ok := bySlot[b.Slot]
		if !ok {
			bySlot[b.Slot] = &BindSlot{Name: b.Name, Kind: b.Kind, Slot: b.Slot, Stages: b.Stages}
			continue
		}
		if existing.Name != b.Name || existing.Kind != b.Kind {
			return nil, errors.Wrapf(ErrShaderBindingConflict,
				"slot %d bound as %q and %q", b.Slot, existing.Name, b.Name)
		}
		existing.Stages |= b.Stages
	}

	slots := make([]BindSlot, 0, len(bySlot))
	for _, s := range bySlot {
		slots = append(slots, *s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Slot < slots[j].Slot })
	return slots, nil
}

func buildBindLayout(d *Device, bindings []ShaderBinding) (*BindLayout, error) {
	return buildBindLayoutSamplers(d, bindings, nil)
}

// buildBindLayoutSamplers attaches immutable samplers to the named
// texture slots. A layout with immutable samplers is a distinct layout;
// shaders sharing SPIR-V but not samplers must not share a *Shader.
func buildBindLayoutSamplers(d *Device, bindings []ShaderBinding, immutable map[string]vk.Sampler) (*BindLayout, error) {
	slots, err := mergeBindings(bindings)
	if err != nil {
		return nil, err
	}

	l := &BindLayout{
		Slots:  slots,
		byName: make(map[string]int, len(slots)),
	}
	for i, s := range slots {
		l.byName[s.Name] = i
	}
	if d == nil {
		return l, nil
	}

	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(slots))
	for i, s := range slots {
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         s.Slot,
			DescriptorType:  s.Kind.descriptorType(),
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(s.Stages.VK()),
		}
		if sampler, ok := immutable[s.Name]; ok && s.Kind == BindTexture {
			vkBindings[i].PImmutableSamplers = []vk.Sampler{sampler}
		}
	}

	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	if d.Caps.PushDescriptor {
		info.Flags = vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreatePushDescriptorBit)
		l.Push = true
	}

	if err := vkErr(vk.CreateDescriptorSetLayout(d.VKDevice, &info, nil, &l.VKLayout)); err != nil {
		return nil, err
	}
	return l, nil
}

// Lookup finds a slot by its shader name.
func (l *BindLayout) Lookup(name string) (BindSlot, bool) {
	i, ok := l.byName[name]
	if !ok {
		return BindSlot{}, false
	}
	return l.Slots[i], true
}

func (l *BindLayout) destroy(q *CmdQueue) {
	if l.VKLayout != vk.NullDescriptorSetLayout {
		q.deferDestroy(Cmd{Op: CmdDestroyDescriptorSetLayout, DescLayout: l.VKLayout})
		l.VKLayout = vk.NullDescriptorSetLayout
	}
}
