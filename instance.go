package vkr

import (
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// InitializeForComputeOnly initializes Vulkan through the system
// loader, without a window system. Windowed applications call
// vk.SetGetInstanceProcAddr with the proc address from their window
// library instead.
func InitializeForComputeOnly() error {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return err
	}
	return vk.Init()
}

// Version is used to specify versions of components.
type Version struct {
	Major int
	Minor int
	Patch int
}

// VKVersion returns a Vulkan compatible version representation.
func (v *Version) VKVersion() uint32 {
	return vk.MakeVersion(v.Major, v.Minor, v.Patch)
}

// App describes the application to Vulkan at instance creation.
type App struct {
	Name       string
	EngineName string
	Version    Version
	// APIVersion is the minimum Vulkan API version (defaults to 1.1,
	// which the multiview and YCbCr paths require).
	APIVersion Version

	EnabledLayers     []string
	EnabledExtensions []string
}

// SupportedLayers returns the instance layers known to the loader.
func SupportedLayers() ([]string, error) {
	var count uint32
	if err := vk.Error(vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return nil, err
	}
	props := make([]vk.LayerProperties, count)
	if err := vk.Error(vk.EnumerateInstanceLayerProperties(&count, props)); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, p := range props {
		p.Deref()
		names = append(names, vk.ToString(p.LayerName[:]))
	}
	return names, nil
}

// SupportedExtensions returns the instance extensions known to the loader.
func SupportedExtensions() ([]string, error) {
	var count uint32
	if err := vk.Error(vk.EnumerateInstanceExtensionProperties("", &count, nil)); err != nil {
		return nil, err
	}
	props := make([]vk.ExtensionProperties, count)
	if err := vk.Error(vk.EnumerateInstanceExtensionProperties("", &count, props)); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, p := range props {
		p.Deref()
		names = append(names, vk.ToString(p.ExtensionName[:]))
	}
	return names, nil
}

// EnableDebugging turns on the Khronos validation layer and the debug
// reporting extensions.
func (a *App) EnableDebugging() {
	a.EnableLayer("VK_LAYER_KHRONOS_validation")
	a.EnableExtension("VK_EXT_debug_utils")
	a.EnableExtension("VK_EXT_debug_report")
}

// EnableLayer enables a specific instance layer if the loader knows it.
func (a *App) EnableLayer(layer string) (*App, error) {
	layers, err := SupportedLayers()
	if err != nil {
		return a, errors.Wrap(err, "getting supported layers")
	}
	for _, l := range layers {
		if l == layer {
			a.EnabledLayers = append(a.EnabledLayers, layer)
			return a, nil
		}
	}
	return a, errors.Newf("layer %q not found", layer)
}

// EnableExtension enables an instance extension.
func (a *App) EnableExtension(extension string) *App {
	a.EnabledExtensions = append(a.EnabledExtensions, extension)
	return a
}

// VKApplicationInfo builds the vk.ApplicationInfo for this App.
func (a *App) VKApplicationInfo() vk.ApplicationInfo {
	if a.APIVersion.Major < 1 {
		a.APIVersion.Major = 1
		a.APIVersion.Minor = 1
	}
	return vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         a.APIVersion.VKVersion(),
		ApplicationVersion: a.Version.VKVersion(),
		PApplicationName:   safeString(a.Name),
		PEngineName:        safeString(a.EngineName),
	}
}

// CreateInstance creates the Vulkan instance.
func (a *App) CreateInstance() (*VulkanInstance, error) {
	appInfo := a.VKApplicationInfo()

	extensions := safeStrings(a.EnabledExtensions)
	layers := safeStrings(a.EnabledLayers)

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}

	instance := &VulkanInstance{}
	if err := vk.Error(vk.CreateInstance(&createInfo, nil, &instance.VKInstance)); err != nil {
		return nil, err
	}
	vk.InitInstance(instance.VKInstance)

	return instance, nil
}

// VulkanInstance wraps the Vulkan instance object.
type VulkanInstance struct {
	VKInstance vk.Instance
}

// PhysicalDevices returns the physical devices known to the instance.
func (i *VulkanInstance) PhysicalDevices() ([]*PhysicalDevice, error) {
	var count uint32
	if err := vk.Error(vk.EnumeratePhysicalDevices(i.VKInstance, &count, nil)); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	devices := make([]vk.PhysicalDevice, count)
	if err := vk.Error(vk.EnumeratePhysicalDevices(i.VKInstance, &count, devices)); err != nil {
		return nil, err
	}

	ret := make([]*PhysicalDevice, count)
	for j, device := range devices {
		ret[j] = &PhysicalDevice{VKPhysicalDevice: device}
		vk.GetPhysicalDeviceProperties(device, &ret[j].VKPhysicalDeviceProperties)
		ret[j].VKPhysicalDeviceProperties.Deref()
		ret[j].DeviceName = vk.ToString(ret[j].VKPhysicalDeviceProperties.DeviceName[:])
	}
	return ret, nil
}

// UseDefaultDebugCallback routes validation messages into slog.
func (i *VulkanInstance) UseDefaultDebugCallback() {
	i.SetDebugCallback(defaultDebugCallback)
}

// SetDebugCallback installs a debug-report callback on the instance.
func (i *VulkanInstance) SetDebugCallback(callback vk.DebugReportCallbackFunc) error {
	var debugCallback vk.DebugReportCallback
	ret := vk.CreateDebugReportCallback(i.VKInstance, &vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
		PfnCallback: callback,
	}, nil, &debugCallback)
	return vk.Error(ret)
}

func defaultDebugCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		slog.Error("vulkan validation", "layer", pLayerPrefix, "code", messageCode, "msg", pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0,
		flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		slog.Warn("vulkan validation", "layer", pLayerPrefix, "code", messageCode, "msg", pMessage)
	default:
		slog.Debug("vulkan validation", "layer", pLayerPrefix, "code", messageCode, "msg", pMessage)
	}
	return vk.Bool32(vk.False)
}

func (i *VulkanInstance) Destroy() {
	vk.DestroyInstance(i.VKInstance, nil)
}
