package hal

import (
	"testing"

	"github.com/spaghettifunk/vasari/engine/hal/metadata"
)

func colorRef(att uint32, layout metadata.ImageLayout) metadata.AttachmentReference {
	return metadata.AttachmentReference{Attachment: att, Layout: layout}
}

// A G-buffer style pass: subpass 0 renders to the attachment, subpass 1
// samples it as an input attachment, and the attachment's stable state is
// shader-read.
func gbufferDesc() metadata.RenderPassDesc {
	return metadata.RenderPassDesc{
		Attachments: []metadata.AttachmentDescription{
			{
				Format:        metadata.FormatRGBA8Unorm,
				LoadOp:        metadata.AttachmentLoadOpClear,
				StoreOp:       metadata.AttachmentStoreOpStore,
				InitialLayout: metadata.ImageLayoutUndefined,
				FinalLayout:   metadata.ImageLayoutShaderReadOnlyOptimal,
			},
			{
				Format:        metadata.FormatBGRA8Unorm,
				LoadOp:        metadata.AttachmentLoadOpClear,
				StoreOp:       metadata.AttachmentStoreOpStore,
				InitialLayout: metadata.ImageLayoutUndefined,
				FinalLayout:   metadata.ImageLayoutPresentSrc,
			},
		},
		Subpasses: []metadata.SubpassDescription{
			{ColorRefs: []metadata.AttachmentReference{colorRef(0, metadata.ImageLayoutColorAttachmentOptimal)}},
			{
				ColorRefs: []metadata.AttachmentReference{colorRef(1, metadata.ImageLayoutColorAttachmentOptimal)},
				InputRefs: []metadata.AttachmentReference{colorRef(0, metadata.ImageLayoutShaderReadOnlyOptimal)},
			},
		},
	}
}

func entryBarriers(plan metadata.BarrierPlan, att uint32) []metadata.AttachmentBarrier {
	var out []metadata.AttachmentBarrier
	for _, ab := range plan.Entry {
		if ab.Attachment == att {
			out = append(out, ab)
		}
	}
	return out
}

func exitBarriers(plan metadata.BarrierPlan, att uint32) []metadata.AttachmentBarrier {
	var out []metadata.AttachmentBarrier
	for _, ab := range plan.Exit {
		if ab.Attachment == att {
			out = append(out, ab)
		}
	}
	return out
}

func TestPlanEntryBarriersAtMostOnePerAttachment(t *testing.T) {
	plan, err := PlanBarriers(gbufferDesc(), false)
	if err != nil {
		t.Fatalf("planning failed: %v", err)
	}
	for att := uint32(0); att < 2; att++ {
		if n := len(entryBarriers(plan, att)); n != 1 {
			t.Errorf("attachment %d: %d entry barriers, want 1", att, n)
		}
	}
	entry := entryBarriers(plan, 0)[0]
	if entry.Barrier.OldLayout != metadata.ImageLayoutUndefined ||
		entry.Barrier.NewLayout != metadata.ImageLayoutColorAttachmentOptimal {
		t.Errorf("attachment 0 entry barrier is %s -> %s",
			entry.Barrier.OldLayout, entry.Barrier.NewLayout)
	}
	if entry.Barrier.SrcAccess != 0 {
		t.Errorf("transition from undefined should carry no source access, got %#x", entry.Barrier.SrcAccess)
	}
}

func TestPlanElidesEntryWhenBackendTransitions(t *testing.T) {
	plan, err := PlanBarriers(gbufferDesc(), true)
	if err != nil {
		t.Fatalf("planning failed: %v", err)
	}
	for _, ab := range plan.Entry {
		if !ab.Elide {
			t.Errorf("attachment %d entry barrier not elided", ab.Attachment)
		}
	}

	plan, err = PlanBarriers(gbufferDesc(), false)
	if err != nil {
		t.Fatalf("planning failed: %v", err)
	}
	for _, ab := range plan.Entry {
		if ab.Elide {
			t.Errorf("attachment %d entry barrier elided without backend support", ab.Attachment)
		}
	}
}

func TestPlanInterSubpassBarrierOnlyOnLayoutConflict(t *testing.T) {
	plan, err := PlanBarriers(gbufferDesc(), true)
	if err != nil {
		t.Fatalf("planning failed: %v", err)
	}

	barriers := plan.BeforeSubpass[1]
	if len(barriers) != 1 {
		t.Fatalf("%d barriers before subpass 1, want 1", len(barriers))
	}
	ab := barriers[0]
	if ab.Attachment != 0 {
		t.Fatalf("barrier targets attachment %d, want 0", ab.Attachment)
	}
	if ab.Barrier.OldLayout != metadata.ImageLayoutColorAttachmentOptimal ||
		ab.Barrier.NewLayout != metadata.ImageLayoutShaderReadOnlyOptimal {
		t.Errorf("barrier is %s -> %s", ab.Barrier.OldLayout, ab.Barrier.NewLayout)
	}

	// Same layout in consecutive subpasses must produce no barrier.
	desc := gbufferDesc()
	desc.Subpasses[1].InputRefs = nil
	desc.Subpasses[1].ColorRefs = append(desc.Subpasses[1].ColorRefs,
		colorRef(0, metadata.ImageLayoutColorAttachmentOptimal))
	desc.Attachments[0].FinalLayout = metadata.ImageLayoutColorAttachmentOptimal
	plan, err = PlanBarriers(desc, true)
	if err != nil {
		t.Fatalf("planning failed: %v", err)
	}
	if len(plan.BeforeSubpass[1]) != 0 {
		t.Errorf("%d barriers before subpass 1, want none", len(plan.BeforeSubpass[1]))
	}
}

func TestPlanExitBarrierRestoresFinalLayout(t *testing.T) {
	plan, err := PlanBarriers(gbufferDesc(), true)
	if err != nil {
		t.Fatalf("planning failed: %v", err)
	}

	// Attachment 0 last used as shader-read, final state shader-read: no
	// exit barrier. Attachment 1 last used as color, final present: one.
	if n := len(exitBarriers(plan, 0)); n != 0 {
		t.Errorf("attachment 0: %d exit barriers, want 0", n)
	}
	exits := exitBarriers(plan, 1)
	if len(exits) != 1 {
		t.Fatalf("attachment 1: %d exit barriers, want 1", len(exits))
	}
	if exits[0].Barrier.NewLayout != metadata.ImageLayoutPresentSrc {
		t.Errorf("exit barrier restores %s, want present_src", exits[0].Barrier.NewLayout)
	}
}

func TestPlanSplitsBarriersAcrossSubpassGaps(t *testing.T) {
	// Attachment 0 is written in subpass 0 and read in subpass 3; the two
	// subpasses in between do not touch it.
	desc := metadata.RenderPassDesc{
		Attachments: []metadata.AttachmentDescription{
			{
				Format:        metadata.FormatRGBA8Unorm,
				InitialLayout: metadata.ImageLayoutColorAttachmentOptimal,
				FinalLayout:   metadata.ImageLayoutShaderReadOnlyOptimal,
			},
			{
				Format:        metadata.FormatBGRA8Unorm,
				InitialLayout: metadata.ImageLayoutColorAttachmentOptimal,
				FinalLayout:   metadata.ImageLayoutColorAttachmentOptimal,
			},
		},
		Subpasses: []metadata.SubpassDescription{
			{ColorRefs: []metadata.AttachmentReference{colorRef(0, metadata.ImageLayoutColorAttachmentOptimal)}},
			{ColorRefs: []metadata.AttachmentReference{colorRef(1, metadata.ImageLayoutColorAttachmentOptimal)}},
			{ColorRefs: []metadata.AttachmentReference{colorRef(1, metadata.ImageLayoutColorAttachmentOptimal)}},
			{InputRefs: []metadata.AttachmentReference{colorRef(0, metadata.ImageLayoutShaderReadOnlyOptimal)}},
		},
	}

	plan, err := PlanBarriers(desc, true)
	if err != nil {
		t.Fatalf("planning failed: %v", err)
	}

	var begins, ends int
	for _, barriers := range plan.BeforeSubpass {
		for _, ab := range barriers {
			switch ab.Barrier.Half {
			case metadata.BarrierBegin:
				begins++
			case metadata.BarrierEnd:
				ends++
			}
		}
	}
	if begins != 1 || ends != 1 {
		t.Fatalf("split into %d begin and %d end halves, want 1 and 1", begins, ends)
	}

	foundBegin := false
	for _, ab := range plan.BeforeSubpass[1] {
		if ab.Barrier.Half == metadata.BarrierBegin {
			foundBegin = true
		}
	}
	if !foundBegin {
		t.Error("begin half not scheduled right after the producing subpass")
	}
	foundEnd := false
	for _, ab := range plan.BeforeSubpass[3] {
		if ab.Barrier.Half == metadata.BarrierEnd {
			foundEnd = true
		}
	}
	if !foundEnd {
		t.Error("end half not scheduled right before the consuming subpass")
	}
}

func TestValidateSplitBarriersRejectsUnmatchedHalves(t *testing.T) {
	barrier := transition(metadata.ImageLayoutColorAttachmentOptimal, metadata.ImageLayoutShaderReadOnlyOptimal)
	begin := barrier
	begin.Half = metadata.BarrierBegin
	end := barrier
	end.Half = metadata.BarrierEnd

	plan := metadata.BarrierPlan{
		BeforeSubpass: map[uint32][]metadata.AttachmentBarrier{
			1: {{Attachment: 0, Barrier: begin}},
		},
	}
	if err := ValidateSplitBarriers(plan); err == nil {
		t.Error("unmatched begin half accepted")
	}

	plan.BeforeSubpass = map[uint32][]metadata.AttachmentBarrier{
		2: {{Attachment: 0, Barrier: end}},
	}
	if err := ValidateSplitBarriers(plan); err == nil {
		t.Error("end half without begin accepted")
	}

	plan.BeforeSubpass = map[uint32][]metadata.AttachmentBarrier{
		1: {{Attachment: 0, Barrier: begin}},
		3: {{Attachment: 0, Barrier: end}},
	}
	if err := ValidateSplitBarriers(plan); err != nil {
		t.Errorf("matched halves rejected: %v", err)
	}
}

func TestPlanRejectsConflictingLayoutsInOneSubpass(t *testing.T) {
	desc := metadata.RenderPassDesc{
		Attachments: []metadata.AttachmentDescription{
			{Format: metadata.FormatRGBA8Unorm},
		},
		Subpasses: []metadata.SubpassDescription{
			{
				ColorRefs: []metadata.AttachmentReference{colorRef(0, metadata.ImageLayoutColorAttachmentOptimal)},
				InputRefs: []metadata.AttachmentReference{colorRef(0, metadata.ImageLayoutShaderReadOnlyOptimal)},
			},
		},
	}
	if _, err := PlanBarriers(desc, true); err == nil {
		t.Error("conflicting layouts in one subpass accepted")
	}
}

func TestPlanUnreferencedAttachmentKeepsDeclaredState(t *testing.T) {
	desc := metadata.RenderPassDesc{
		Attachments: []metadata.AttachmentDescription{
			{
				Format:        metadata.FormatRGBA8Unorm,
				InitialLayout: metadata.ImageLayoutTransferDstOptimal,
				FinalLayout:   metadata.ImageLayoutShaderReadOnlyOptimal,
			},
		},
		Subpasses: []metadata.SubpassDescription{{}},
	}
	plan, err := PlanBarriers(desc, true)
	if err != nil {
		t.Fatalf("planning failed: %v", err)
	}
	exits := exitBarriers(plan, 0)
	if len(exits) != 1 {
		t.Fatalf("%d exit barriers, want 1", len(exits))
	}
	if exits[0].Barrier.NewLayout != metadata.ImageLayoutShaderReadOnlyOptimal {
		t.Errorf("unreferenced attachment left in %s", exits[0].Barrier.NewLayout)
	}
}
