package hal

import (
	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/native"
)

type ImageDesc struct {
	Extent      metadata.Extent3D
	MipLevels   uint32
	ArrayLayers uint32
	Format      metadata.Format
	Samples     metadata.SampleCount
	Usage       metadata.TextureUsageFlags
	Memory      metadata.MemoryUsage
}

// Image owns a native image and its backing allocation. Images start in the
// undefined layout; every later layout is reached through a planned or
// explicit barrier.
type Image struct {
	device *Device
	handle native.ImageHandle
	memory native.MemoryHandle
	slot   Handle

	extent metadata.Extent3D
	format metadata.Format
	mips   uint32
	layers uint32
	usage  metadata.TextureUsageFlags
}

func (d *Device) CreateImage(desc ImageDesc) (*Image, error) {
	if d.Lost() {
		return nil, core.ErrDeviceLost
	}
	if desc.Extent.Width == 0 || desc.Extent.Height == 0 {
		return nil, core.InvalidUsagef("image extent must be nonzero")
	}
	if desc.Format.Info().TexelSize == 0 {
		return nil, core.ErrUnsupportedFormat
	}
	if !metadata.FormatSupported(d.backend.Kind(), desc.Format, desc.Usage) {
		return nil, core.ErrUnsupportedUsage
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.ArrayLayers == 0 {
		desc.ArrayLayers = 1
	}
	if desc.Extent.Depth == 0 {
		desc.Extent.Depth = 1
	}
	if desc.Samples == 0 {
		desc.Samples = 1
	}

	handle, err := d.backend.CreateImage(native.ImageDesc{
		Extent:      desc.Extent,
		MipLevels:   desc.MipLevels,
		ArrayLayers: desc.ArrayLayers,
		Format:      desc.Format,
		Samples:     desc.Samples,
		Usage:       desc.Usage,
	})
	if err != nil {
		core.LogError("image creation failed: %s", err.Error())
		return nil, err
	}

	requirements := d.backend.GetImageRequirements(handle)
	memory, _, err := d.allocateBound(requirements, desc.Memory)
	if err != nil {
		d.backend.DestroyImage(handle)
		return nil, err
	}
	if err := d.backend.BindImageMemory(handle, memory, 0); err != nil {
		d.backend.FreeMemory(memory)
		d.backend.DestroyImage(handle)
		return nil, err
	}

	img := &Image{
		device: d,
		handle: handle,
		memory: memory,
		extent: desc.Extent,
		format: desc.Format,
		mips:   desc.MipLevels,
		layers: desc.ArrayLayers,
		usage:  desc.Usage,
	}
	img.slot = d.acquireHandle(img)
	return img, nil
}

func (i *Image) Extent() metadata.Extent3D          { return i.extent }
func (i *Image) Format() metadata.Format            { return i.format }
func (i *Image) MipLevels() uint32                  { return i.mips }
func (i *Image) ArrayLayers() uint32                { return i.layers }
func (i *Image) Usage() metadata.TextureUsageFlags  { return i.usage }
func (i *Image) Handle() Handle                     { return i.slot }
func (i *Image) NativeHandle() native.ImageHandle   { return i.handle }

// WholeRange covers every mip and layer of the image.
func (i *Image) WholeRange() metadata.ImageSubresourceRange {
	return metadata.ImageSubresourceRange{
		LevelCount: i.mips,
		LayerCount: i.layers,
	}
}

func (i *Image) Destroy() {
	device, handle, memory, slot := i.device, i.handle, i.memory, i.slot
	device.releaseHandle(slot)
	device.gc.deferDestroy(func() {
		device.backend.DestroyImage(handle)
		device.backend.FreeMemory(memory)
	})
}
