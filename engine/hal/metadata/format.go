package metadata

type Format int

const (
	FormatUndefined Format = iota
	FormatR8Unorm
	FormatRG8Unorm
	FormatRGBA8Unorm
	FormatRGBA8Srgb
	FormatBGRA8Unorm
	FormatBGRA8Srgb
	FormatR16Float
	FormatRG16Float
	FormatRGBA16Float
	FormatR32Uint
	FormatR32Float
	FormatRG32Float
	FormatRGB32Float
	FormatRGBA32Float
	FormatD32Float
	FormatD24UnormS8Uint
	FormatD32FloatS8Uint
)

type FormatInfo struct {
	// Bytes per texel.
	TexelSize  uint32
	HasDepth   bool
	HasStencil bool
}

var formatInfos = map[Format]FormatInfo{
	FormatR8Unorm:        {TexelSize: 1},
	FormatRG8Unorm:       {TexelSize: 2},
	FormatRGBA8Unorm:     {TexelSize: 4},
	FormatRGBA8Srgb:      {TexelSize: 4},
	FormatBGRA8Unorm:     {TexelSize: 4},
	FormatBGRA8Srgb:      {TexelSize: 4},
	FormatR16Float:       {TexelSize: 2},
	FormatRG16Float:      {TexelSize: 4},
	FormatRGBA16Float:    {TexelSize: 8},
	FormatR32Uint:        {TexelSize: 4},
	FormatR32Float:       {TexelSize: 4},
	FormatRG32Float:      {TexelSize: 8},
	FormatRGB32Float:     {TexelSize: 12},
	FormatRGBA32Float:    {TexelSize: 16},
	FormatD32Float:       {TexelSize: 4, HasDepth: true},
	FormatD24UnormS8Uint: {TexelSize: 4, HasDepth: true, HasStencil: true},
	FormatD32FloatS8Uint: {TexelSize: 8, HasDepth: true, HasStencil: true},
}

// Info returns the static description of a format. The zero FormatInfo is
// returned for FormatUndefined.
func (f Format) Info() FormatInfo {
	return formatInfos[f]
}

func (f Format) IsDepthStencil() bool {
	fi := formatInfos[f]
	return fi.HasDepth || fi.HasStencil
}

// FormatSupported reports whether a backend kind can create an image of the
// given format for the given usage. These predicates describe the least
// capable device of each family; a real adapter may support more, never
// less, so layering code can rely on them without querying the driver.
func FormatSupported(kind BackendKind, f Format, usage TextureUsageFlags) bool {
	fi, ok := formatInfos[f]
	if !ok {
		return false
	}

	// Depth/stencil formats never serve as color targets or storage.
	if fi.HasDepth || fi.HasStencil {
		if usage&(TextureUsageColorAttachment|TextureUsageStorage) != 0 {
			return false
		}
	} else if usage&TextureUsageDepthStencilAttachment != 0 {
		return false
	}

	switch kind {
	case BackendUniform:
		// No storage images on the legacy path.
		if usage&TextureUsageStorage != 0 {
			return false
		}
		// Packed D24S8 is the only guaranteed combined depth/stencil.
		if f == FormatD32FloatS8Uint {
			return false
		}
	case BackendFlat:
		// Typed UAV loads on three-channel formats are not guaranteed.
		if usage&TextureUsageStorage != 0 && f == FormatRGB32Float {
			return false
		}
	case BackendArgument:
		if f == FormatD24UnormS8Uint {
			// Packed 24-bit depth does not exist on argument-buffer
			// hardware, callers fall back to D32FloatS8Uint.
			return false
		}
	case BackendExplicit, BackendHeap:
		// Full table.
	}

	// Three-channel 32-bit is a vertex fetch format everywhere else.
	if f == FormatRGB32Float && usage&(TextureUsageColorAttachment|TextureUsageSampled) != 0 {
		return false
	}
	return true
}
