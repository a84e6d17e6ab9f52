/*
Package vulkan is the explicit-descriptor shim: the portable layer's
descriptions map nearly one to one onto the driver, so most methods are
straight translations with no bookkeeping beyond handle tables. Windowing
and swapchain ownership live outside the layer, which keeps this shim
headless; Present without a swapchain collaborator is rejected.
*/
package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

type vulkanImage struct {
	image  vk.Image
	view   vk.ImageView
	format metadata.Format
	aspect vk.ImageAspectFlags
}

type vulkanLayout struct {
	layout     vk.PipelineLayout
	setLayouts []vk.DescriptorSetLayout
}

type Backend struct {
	instance vk.Instance
	gpu      vk.PhysicalDevice
	device   vk.Device

	properties vk.PhysicalDeviceProperties
	memory     vk.PhysicalDeviceMemoryProperties

	graphicsFamily uint32
	transferFamily uint32
	graphicsQueue  vk.Queue
	transferQueue  vk.Queue

	commandPool    vk.CommandPool
	descriptorPool vk.DescriptorPool

	mutex        sync.Mutex
	nextHandle   uint64
	buffers      map[native.BufferHandle]vk.Buffer
	images       map[native.ImageHandle]vulkanImage
	memories     map[native.MemoryHandle]vk.DeviceMemory
	layouts      map[native.PipelineLayoutHandle]vulkanLayout
	byAssignment map[*metadata.RegisterAssignment]vulkanLayout
	sets         map[native.DescriptorSetHandle]vk.DescriptorSet
	pipelines    map[native.PipelineHandle]vk.Pipeline
	passes       map[native.RenderPassHandle]vk.RenderPass
	framebuffers map[native.FramebufferHandle]vk.Framebuffer
	fences       map[native.FenceHandle]vk.Fence
	semaphores   map[native.SemaphoreHandle]vk.Semaphore
	commands     map[native.CommandListHandle]vk.CommandBuffer

	// Per-queue submission must be externally ordered; the driver queue
	// itself is not thread safe.
	queueMutex sync.Mutex
}

// resultErr maps a driver result onto the portable error taxonomy.
func resultErr(op string, res vk.Result) error {
	switch res {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDeviceMemory:
		return core.ErrOutOfDeviceMemory
	case vk.ErrorOutOfHostMemory:
		return core.ErrOutOfHostMemory
	case vk.ErrorTooManyObjects:
		return core.ErrTooManyObjects
	case vk.ErrorDeviceLost:
		return core.ErrDeviceLost
	case vk.ErrorOutOfDate:
		return core.ErrOutOfDate
	case vk.ErrorSurfaceLost:
		return core.ErrSurfaceLost
	case vk.ErrorFormatNotSupported:
		return core.ErrUnsupportedFormat
	}
	return fmt.Errorf("%s failed with VkResult %d", op, res)
}

func New(appName string) (*Backend, error) {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, fmt.Errorf("vulkan loader unavailable: %w", err)
	}
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("vulkan init failed: %w", err)
	}

	b := &Backend{
		buffers:      make(map[native.BufferHandle]vk.Buffer),
		images:       make(map[native.ImageHandle]vulkanImage),
		memories:     make(map[native.MemoryHandle]vk.DeviceMemory),
		layouts:      make(map[native.PipelineLayoutHandle]vulkanLayout),
		byAssignment: make(map[*metadata.RegisterAssignment]vulkanLayout),
		sets:         make(map[native.DescriptorSetHandle]vk.DescriptorSet),
		pipelines:    make(map[native.PipelineHandle]vk.Pipeline),
		passes:       make(map[native.RenderPassHandle]vk.RenderPass),
		framebuffers: make(map[native.FramebufferHandle]vk.Framebuffer),
		fences:       make(map[native.FenceHandle]vk.Fence),
		semaphores:   make(map[native.SemaphoreHandle]vk.Semaphore),
		commands:     make(map[native.CommandListHandle]vk.CommandBuffer),
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   appName + "\x00",
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        "Vasari\x00",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 1, 0),
	}
	instanceInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}
	var instance vk.Instance
	if res := vk.CreateInstance(&instanceInfo, nil, &instance); res != vk.Success {
		return nil, resultErr("vkCreateInstance", res)
	}
	b.instance = instance
	vk.InitInstance(instance)

	if err := b.selectPhysicalDevice(); err != nil {
		vk.DestroyInstance(b.instance, nil)
		return nil, err
	}
	if err := b.createDevice(); err != nil {
		vk.DestroyInstance(b.instance, nil)
		return nil, err
	}

	core.LogInfo("vulkan backend ready (graphics family %d, transfer family %d)",
		b.graphicsFamily, b.transferFamily)
	return b, nil
}

func (b *Backend) selectPhysicalDevice() error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(b.instance, &count, nil); res != vk.Success {
		return resultErr("vkEnumeratePhysicalDevices", res)
	}
	if count == 0 {
		return fmt.Errorf("%w: no vulkan devices present", core.ErrUnsupportedUsage)
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(b.instance, &count, devices); res != vk.Success {
		return resultErr("vkEnumeratePhysicalDevices", res)
	}

	// Prefer a discrete GPU, settle for anything with a graphics queue.
	best := -1
	for i, dev := range devices {
		properties := vk.PhysicalDeviceProperties{}
		vk.GetPhysicalDeviceProperties(dev, &properties)
		properties.Deref()

		var familyCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(dev, &familyCount, nil)
		families := make([]vk.QueueFamilyProperties, familyCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(dev, &familyCount, families)

		hasGraphics := false
		for j := range families {
			families[j].Deref()
			if families[j].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
				hasGraphics = true
			}
		}
		if !hasGraphics {
			continue
		}
		if best < 0 || properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			best = i
			b.properties = properties
		}
	}
	if best < 0 {
		return fmt.Errorf("%w: no device with a graphics queue", core.ErrUnsupportedUsage)
	}

	b.gpu = devices[best]
	vk.GetPhysicalDeviceMemoryProperties(b.gpu, &b.memory)
	b.memory.Deref()

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(b.gpu, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(b.gpu, &familyCount, families)

	b.graphicsFamily = 0
	b.transferFamily = 0
	minTransferScore := 255
	for i := range families {
		families[i].Deref()
		score := 0
		if families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			b.graphicsFamily = uint32(i)
			score++
		}
		if families[i].QueueFlags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
			score++
		}
		if families[i].QueueFlags&vk.QueueFlags(vk.QueueTransferBit) != 0 && score <= minTransferScore {
			// The lowest-scoring transfer family is most likely dedicated.
			minTransferScore = score
			b.transferFamily = uint32(i)
		}
	}
	return nil
}

func (b *Backend) createDevice() error {
	indices := []uint32{b.graphicsFamily}
	if b.transferFamily != b.graphicsFamily {
		indices = append(indices, b.transferFamily)
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, family := range indices {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	deviceInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(queueInfos)),
		PQueueCreateInfos:    queueInfos,
		PEnabledFeatures:     []vk.PhysicalDeviceFeatures{{}},
	}
	var device vk.Device
	if res := vk.CreateDevice(b.gpu, &deviceInfo, nil, &device); res != vk.Success {
		return resultErr("vkCreateDevice", res)
	}
	b.device = device

	vk.GetDeviceQueue(b.device, b.graphicsFamily, 0, &b.graphicsQueue)
	vk.GetDeviceQueue(b.device, b.transferFamily, 0, &b.transferQueue)

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: b.graphicsFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if res := vk.CreateCommandPool(b.device, &poolInfo, nil, &b.commandPool); res != vk.Success {
		return resultErr("vkCreateCommandPool", res)
	}

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: 1024},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1024},
		{Type: vk.DescriptorTypeSampledImage, DescriptorCount: 1024},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: 256},
		{Type: vk.DescriptorTypeSampler, DescriptorCount: 256},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1024},
		{Type: vk.DescriptorTypeInputAttachment, DescriptorCount: 256},
	}
	descriptorPoolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       2048,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vk.CreateDescriptorPool(b.device, &descriptorPoolInfo, nil, &b.descriptorPool); res != vk.Success {
		return resultErr("vkCreateDescriptorPool", res)
	}
	return nil
}

func (b *Backend) Name() string { return "vulkan" }

func (b *Backend) Kind() metadata.BackendKind { return metadata.BackendExplicit }

func (b *Backend) Limits() metadata.Limits {
	limits := b.properties.Limits
	limits.Deref()
	return metadata.Limits{
		MaxBoundDescriptorSets: limits.MaxBoundDescriptorSets,
		MaxPushConstantSize:    limits.MaxPushConstantsSize,
		MaxColorAttachments:    limits.MaxColorAttachments,
		MaxSubpasses:           8,
	}
}

// The driver performs entry transitions at vkCmdBeginRenderPass through the
// attachment reference layouts, so planned entry barriers are elided.
func (b *Backend) PassBeginTransitions() bool { return true }

func (b *Backend) handle() uint64 {
	b.nextHandle++
	return b.nextHandle
}

func (b *Backend) CreateBuffer(desc native.BufferDesc) (native.BufferHandle, error) {
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       vkBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if res := vk.CreateBuffer(b.device, &info, nil, &buffer); res != vk.Success {
		return 0, resultErr("vkCreateBuffer", res)
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	h := native.BufferHandle(b.handle())
	b.buffers[h] = buffer
	return h, nil
}

func (b *Backend) DestroyBuffer(h native.BufferHandle) {
	b.mutex.Lock()
	buffer := b.buffers[h]
	delete(b.buffers, h)
	b.mutex.Unlock()
	vk.DestroyBuffer(b.device, buffer, nil)
}

func aspectFor(f metadata.Format) vk.ImageAspectFlags {
	info := f.Info()
	var aspect vk.ImageAspectFlagBits
	if info.HasDepth {
		aspect |= vk.ImageAspectDepthBit
	}
	if info.HasStencil {
		aspect |= vk.ImageAspectStencilBit
	}
	if aspect == 0 {
		aspect = vk.ImageAspectColorBit
	}
	return vk.ImageAspectFlags(aspect)
}

func (b *Backend) CreateImage(desc native.ImageDesc) (native.ImageHandle, error) {
	imageType := vk.ImageType2d
	if desc.Extent.Depth > 1 {
		imageType = vk.ImageType3d
	}
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: imageType,
		Format:    vkFormat(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  desc.Extent.Depth,
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   desc.ArrayLayers,
		Samples:       vk.SampleCountFlagBits(desc.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var image vk.Image
	if res := vk.CreateImage(b.device, &info, nil, &image); res != vk.Success {
		return 0, resultErr("vkCreateImage", res)
	}

	aspect := aspectFor(desc.Format)
	viewType := vk.ImageViewType2d
	if imageType == vk.ImageType3d {
		viewType = vk.ImageViewType3d
	}
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: viewType,
		Format:   info.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: desc.MipLevels,
			LayerCount: desc.ArrayLayers,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(b.device, &viewInfo, nil, &view); res != vk.Success {
		vk.DestroyImage(b.device, image, nil)
		return 0, resultErr("vkCreateImageView", res)
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	h := native.ImageHandle(b.handle())
	b.images[h] = vulkanImage{image: image, view: view, format: desc.Format, aspect: aspect}
	return h, nil
}

func (b *Backend) DestroyImage(h native.ImageHandle) {
	b.mutex.Lock()
	img := b.images[h]
	delete(b.images, h)
	b.mutex.Unlock()
	vk.DestroyImageView(b.device, img.view, nil)
	vk.DestroyImage(b.device, img.image, nil)
}

func (b *Backend) GetBufferRequirements(h native.BufferHandle) metadata.MemoryRequirements {
	b.mutex.Lock()
	buffer := b.buffers[h]
	b.mutex.Unlock()

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(b.device, buffer, &requirements)
	requirements.Deref()
	return metadata.MemoryRequirements{
		Size:      uint64(requirements.Size),
		Alignment: uint64(requirements.Alignment),
		TypeMask:  requirements.MemoryTypeBits,
	}
}

func (b *Backend) GetImageRequirements(h native.ImageHandle) metadata.MemoryRequirements {
	b.mutex.Lock()
	img := b.images[h]
	b.mutex.Unlock()

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(b.device, img.image, &requirements)
	requirements.Deref()
	return metadata.MemoryRequirements{
		Size:      uint64(requirements.Size),
		Alignment: uint64(requirements.Alignment),
		TypeMask:  requirements.MemoryTypeBits,
	}
}

func (b *Backend) MemoryTypes() []metadata.MemoryType {
	types := make([]metadata.MemoryType, 0, b.memory.MemoryTypeCount)
	for i := uint32(0); i < b.memory.MemoryTypeCount; i++ {
		mt := b.memory.MemoryTypes[i]
		mt.Deref()
		var properties metadata.MemoryPropertyFlags
		flags := vk.MemoryPropertyFlagBits(mt.PropertyFlags)
		if flags&vk.MemoryPropertyDeviceLocalBit != 0 {
			properties |= metadata.MemoryPropertyDeviceLocal
		}
		if flags&vk.MemoryPropertyHostVisibleBit != 0 {
			properties |= metadata.MemoryPropertyHostVisible
		}
		if flags&vk.MemoryPropertyHostCoherentBit != 0 {
			properties |= metadata.MemoryPropertyHostCoherent
		}
		if flags&vk.MemoryPropertyHostCachedBit != 0 {
			properties |= metadata.MemoryPropertyHostCached
		}
		types = append(types, metadata.MemoryType{Properties: properties, HeapIndex: mt.HeapIndex})
	}
	return types
}

func (b *Backend) AllocateMemory(typeIndex uint32, size uint64) (native.MemoryHandle, error) {
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: typeIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(b.device, &info, nil, &memory); res != vk.Success {
		return 0, resultErr("vkAllocateMemory", res)
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	h := native.MemoryHandle(b.handle())
	b.memories[h] = memory
	return h, nil
}

func (b *Backend) FreeMemory(h native.MemoryHandle) {
	b.mutex.Lock()
	memory := b.memories[h]
	delete(b.memories, h)
	b.mutex.Unlock()
	vk.FreeMemory(b.device, memory, nil)
}

func (b *Backend) BindBufferMemory(bh native.BufferHandle, mh native.MemoryHandle, offset uint64) error {
	b.mutex.Lock()
	buffer, memory := b.buffers[bh], b.memories[mh]
	b.mutex.Unlock()
	return resultErr("vkBindBufferMemory",
		vk.BindBufferMemory(b.device, buffer, memory, vk.DeviceSize(offset)))
}

func (b *Backend) BindImageMemory(ih native.ImageHandle, mh native.MemoryHandle, offset uint64) error {
	b.mutex.Lock()
	img, memory := b.images[ih], b.memories[mh]
	b.mutex.Unlock()
	return resultErr("vkBindImageMemory",
		vk.BindImageMemory(b.device, img.image, memory, vk.DeviceSize(offset)))
}

func (b *Backend) MapMemory(mh native.MemoryHandle, offset, size uint64) ([]byte, error) {
	b.mutex.Lock()
	memory := b.memories[mh]
	b.mutex.Unlock()

	var ptr unsafe.Pointer
	if res := vk.MapMemory(b.device, memory, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &ptr); res != vk.Success {
		return nil, resultErr("vkMapMemory", res)
	}
	return unsafe.Slice((*byte)(ptr), size), nil
}

func (b *Backend) UnmapMemory(mh native.MemoryHandle) {
	b.mutex.Lock()
	memory := b.memories[mh]
	b.mutex.Unlock()
	vk.UnmapMemory(b.device, memory)
}

func (b *Backend) Shutdown() error {
	if res := vk.DeviceWaitIdle(b.device); res != vk.Success {
		return resultErr("vkDeviceWaitIdle", res)
	}
	vk.DestroyDescriptorPool(b.device, b.descriptorPool, nil)
	vk.DestroyCommandPool(b.device, b.commandPool, nil)
	vk.DestroyDevice(b.device, nil)
	vk.DestroyInstance(b.instance, nil)
	core.LogInfo("vulkan backend shut down")
	return nil
}
