package metadata

type AttachmentLoadOp int

const (
	AttachmentLoadOpLoad AttachmentLoadOp = iota
	AttachmentLoadOpClear
	AttachmentLoadOpDontCare
)

type AttachmentStoreOp int

const (
	AttachmentStoreOpStore AttachmentStoreOp = iota
	AttachmentStoreOpDontCare
)

/**
 * @brief One attachment of a render pass, with the layouts it must hold on
 * entry and exit. FinalLayout is the attachment's declared stable state; the
 * barrier planner guarantees it is restored by pass exit.
 */
type AttachmentDescription struct {
	Format         Format
	Samples        SampleCount
	LoadOp         AttachmentLoadOp
	StoreOp        AttachmentStoreOp
	StencilLoadOp  AttachmentLoadOp
	StencilStoreOp AttachmentStoreOp
	InitialLayout  ImageLayout
	FinalLayout    ImageLayout
}

// AttachmentReference names an attachment by its index in the render pass
// attachment list plus the layout the referencing subpass needs it in.
type AttachmentReference struct {
	Attachment uint32
	Layout     ImageLayout
}

const AttachmentUnused = ^uint32(0)

/**
 * @brief One subpass of a render pass.
 */
type SubpassDescription struct {
	ColorRefs       []AttachmentReference
	DepthStencilRef *AttachmentReference
	InputRefs       []AttachmentReference
	// Attachment indices untouched by this subpass whose contents must
	// survive it.
	Preserve []uint32
}

type RenderPassDesc struct {
	Attachments []AttachmentDescription
	Subpasses   []SubpassDescription
}

// SubpassContents selects how a subpass is populated: inline recording on
// the primary buffer, or exclusively through secondary buffers.
type SubpassContents int

const (
	SubpassContentsInline SubpassContents = iota
	SubpassContentsSecondaryBuffers
)

// AttachmentBarrier is a planner-produced barrier for one attachment.
type AttachmentBarrier struct {
	Attachment uint32
	Barrier    ImageBarrier
	// Elide is set on entry barriers whose transition the backend's
	// pass-begin instruction performs implicitly.
	Elide bool
}

/**
 * @brief The planner's output for one render pass: at most one entry and one
 * exit barrier per attachment, plus inter-subpass barriers only where
 * consecutive referencing subpasses disagree on layout. BeforeSubpass[i]
 * executes between subpass i-1 and i.
 */
type BarrierPlan struct {
	Entry         []AttachmentBarrier
	BeforeSubpass map[uint32][]AttachmentBarrier
	Exit          []AttachmentBarrier
}
