package hal

import (
	"sort"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
)

// attachmentUse is one subpass's claim on an attachment.
type attachmentUse struct {
	subpass uint32
	layout  metadata.ImageLayout
}

// transition builds the full barrier for moving an attachment between two
// layouts. From the undefined layout there is nothing to make visible, so
// the source half collapses to top-of-pipe with no access.
func transition(old, new metadata.ImageLayout) metadata.ImageBarrier {
	b := metadata.ImageBarrier{
		OldLayout: old,
		NewLayout: new,
		SrcAccess: metadata.LayoutAccess(old),
		DstAccess: metadata.LayoutAccess(new),
		SrcStage:  metadata.LayoutStage(old),
		DstStage:  metadata.LayoutStage(new),
	}
	if old == metadata.ImageLayoutUndefined {
		b.SrcAccess = 0
		b.SrcStage = metadata.PipelineStageTopOfPipe
	}
	return b
}

// attachmentUses collects, per attachment, the ordered list of subpasses
// referencing it and the layout each needs. A subpass referencing one
// attachment in two roles with conflicting layouts is a construction error.
func attachmentUses(desc metadata.RenderPassDesc) (map[uint32][]attachmentUse, error) {
	uses := make(map[uint32][]attachmentUse)

	record := func(subpass uint32, ref metadata.AttachmentReference) error {
		if ref.Attachment == metadata.AttachmentUnused {
			return nil
		}
		if int(ref.Attachment) >= len(desc.Attachments) {
			return core.InvalidUsagef("subpass %d references attachment %d of %d",
				subpass, ref.Attachment, len(desc.Attachments))
		}
		list := uses[ref.Attachment]
		if n := len(list); n > 0 && list[n-1].subpass == subpass {
			if list[n-1].layout != ref.Layout {
				return core.InvalidUsagef(
					"subpass %d needs attachment %d in both %s and %s",
					subpass, ref.Attachment, list[n-1].layout, ref.Layout)
			}
			return nil
		}
		uses[ref.Attachment] = append(list, attachmentUse{subpass: subpass, layout: ref.Layout})
		return nil
	}

	for i, sp := range desc.Subpasses {
		subpass := uint32(i)
		for _, ref := range sp.InputRefs {
			if err := record(subpass, ref); err != nil {
				return nil, err
			}
		}
		for _, ref := range sp.ColorRefs {
			if err := record(subpass, ref); err != nil {
				return nil, err
			}
		}
		if sp.DepthStencilRef != nil {
			if err := record(subpass, *sp.DepthStencilRef); err != nil {
				return nil, err
			}
		}
	}
	return uses, nil
}

/**
 * @brief PlanBarriers computes the full barrier schedule of a render pass.
 *
 * Per attachment the plan holds at most one entry barrier (marked elided
 * when the backend's pass-begin instruction transitions implicitly), an
 * inter-subpass barrier only where two consecutive referencing subpasses
 * disagree on layout, and at most one exit barrier, present exactly when the
 * last-use layout differs from the declared final layout. A layout change
 * whose producer and consumer are two or more subpasses apart is split into
 * begin/end halves so unrelated subpasses in between are not serialized.
 */
func PlanBarriers(desc metadata.RenderPassDesc, passBeginTransitions bool) (metadata.BarrierPlan, error) {
	plan := metadata.BarrierPlan{
		BeforeSubpass: make(map[uint32][]metadata.AttachmentBarrier),
	}

	uses, err := attachmentUses(desc)
	if err != nil {
		return plan, err
	}

	// Attachment order keeps the plan deterministic.
	ids := make([]uint32, 0, len(desc.Attachments))
	for id := range desc.Attachments {
		ids = append(ids, uint32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		att := desc.Attachments[id]
		list := uses[id]

		if len(list) == 0 {
			// Never referenced; honor the declared stable state anyway.
			if att.InitialLayout != att.FinalLayout {
				plan.Exit = append(plan.Exit, metadata.AttachmentBarrier{
					Attachment: id,
					Barrier:    transition(att.InitialLayout, att.FinalLayout),
				})
			}
			continue
		}

		if att.InitialLayout != list[0].layout {
			plan.Entry = append(plan.Entry, metadata.AttachmentBarrier{
				Attachment: id,
				Barrier:    transition(att.InitialLayout, list[0].layout),
				Elide:      passBeginTransitions,
			})
		}

		for i := 1; i < len(list); i++ {
			prev, next := list[i-1], list[i]
			if prev.layout == next.layout {
				continue
			}
			full := transition(prev.layout, next.layout)
			if next.subpass-prev.subpass >= 2 {
				// Split across the gap so the subpasses in between are
				// not serialized against this transition.
				begin, end := full, full
				begin.Half = metadata.BarrierBegin
				end.Half = metadata.BarrierEnd
				plan.BeforeSubpass[prev.subpass+1] = append(plan.BeforeSubpass[prev.subpass+1],
					metadata.AttachmentBarrier{Attachment: id, Barrier: begin})
				plan.BeforeSubpass[next.subpass] = append(plan.BeforeSubpass[next.subpass],
					metadata.AttachmentBarrier{Attachment: id, Barrier: end})
			} else {
				plan.BeforeSubpass[next.subpass] = append(plan.BeforeSubpass[next.subpass],
					metadata.AttachmentBarrier{Attachment: id, Barrier: full})
			}
		}

		last := list[len(list)-1].layout
		if last != att.FinalLayout {
			plan.Exit = append(plan.Exit, metadata.AttachmentBarrier{
				Attachment: id,
				Barrier:    transition(last, att.FinalLayout),
			})
		}
	}

	if err := ValidateSplitBarriers(plan); err != nil {
		return plan, err
	}
	return plan, nil
}

type splitKey struct {
	attachment uint32
	old, new   metadata.ImageLayout
}

// ValidateSplitBarriers checks that every begin half in a plan is matched by
// exactly one end half carrying the same transition, and that no end half
// executes before its begin.
func ValidateSplitBarriers(plan metadata.BarrierPlan) error {
	subpasses := make([]uint32, 0, len(plan.BeforeSubpass))
	for s := range plan.BeforeSubpass {
		subpasses = append(subpasses, s)
	}
	sort.Slice(subpasses, func(i, j int) bool { return subpasses[i] < subpasses[j] })

	open := make(map[splitKey]int)
	for _, s := range subpasses {
		for _, ab := range plan.BeforeSubpass[s] {
			key := splitKey{
				attachment: ab.Attachment,
				old:        ab.Barrier.OldLayout,
				new:        ab.Barrier.NewLayout,
			}
			switch ab.Barrier.Half {
			case metadata.BarrierBegin:
				open[key]++
			case metadata.BarrierEnd:
				if open[key] == 0 {
					return core.InvalidUsagef(
						"split barrier end for attachment %d (%s -> %s) has no matching begin",
						ab.Attachment, ab.Barrier.OldLayout, ab.Barrier.NewLayout)
				}
				open[key]--
			}
		}
	}
	for key, n := range open {
		if n != 0 {
			return core.InvalidUsagef(
				"split barrier begin for attachment %d (%s -> %s) is never ended",
				key.attachment, key.old, key.new)
		}
	}
	return nil
}
