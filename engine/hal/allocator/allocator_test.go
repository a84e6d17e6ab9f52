package allocator

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
)

func flatSlot(t *testing.T, addr metadata.NativeAddress) metadata.FlatSlot {
	t.Helper()
	fs, ok := addr.(metadata.FlatSlot)
	if !ok {
		t.Fatalf("expected FlatSlot, got %T", addr)
	}
	return fs
}

func TestFlatAssignsDeclarationOrder(t *testing.T) {
	a := New(metadata.BackendFlat, DefaultLimits())

	// Layout [(set0,b0)=UniformBuffer, (set0,b1)=SampledImage x4].
	buf, err := a.Assign(0, metadata.DescriptorBinding{Binding: 0, Kind: metadata.BindingKindUniformBuffer, Count: 1, Stages: metadata.ShaderStageVertex})
	if err != nil {
		t.Fatal(err)
	}
	if fs := flatSlot(t, buf); fs.Category != metadata.CategoryUniformBuffer || fs.Slot != 0 {
		t.Errorf("uniform buffer should land on b0, got %s", fs)
	}

	images, err := a.Assign(0, metadata.DescriptorBinding{Binding: 1, Kind: metadata.BindingKindSampledImage, Count: 4, Stages: metadata.ShaderStageFragment})
	if err != nil {
		t.Fatal(err)
	}
	fs := flatSlot(t, images)
	if fs.Category != metadata.CategoryTexture || fs.Slot != 0 || fs.Count != 4 {
		t.Errorf("image array should occupy t0..t3, got %s", fs)
	}

	// A fifth image at (set0,b2) continues at t4, never reusing t0..t3.
	fifth, err := a.Assign(0, metadata.DescriptorBinding{Binding: 2, Kind: metadata.BindingKindSampledImage, Count: 1, Stages: metadata.ShaderStageFragment})
	if err != nil {
		t.Fatal(err)
	}
	if fs := flatSlot(t, fifth); fs.Slot != 4 {
		t.Errorf("fifth image should land on t4, got %s", fs)
	}
}

func TestFlatStorageDirections(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxStorageSlots = 8
	a := New(metadata.BackendFlat, limits)

	compute, err := a.Assign(0, metadata.DescriptorBinding{Binding: 0, Kind: metadata.BindingKindStorageBuffer, Count: 1, Stages: metadata.ShaderStageCompute})
	if err != nil {
		t.Fatal(err)
	}
	if fs := flatSlot(t, compute); fs.Slot != 0 {
		t.Errorf("compute storage should allocate bottom-up from u0, got %s", fs)
	}

	graphics, err := a.Assign(0, metadata.DescriptorBinding{Binding: 1, Kind: metadata.BindingKindStorageImage, Count: 2, Stages: metadata.ShaderStageFragment})
	if err != nil {
		t.Fatal(err)
	}
	if fs := flatSlot(t, graphics); fs.Slot != 6 {
		t.Errorf("graphics storage should allocate top-down ending at u7, got %s", fs)
	}

	// The two directions never cross.
	for i := uint32(0); i < 5; i++ {
		_, err = a.Assign(0, metadata.DescriptorBinding{Binding: 2 + i, Kind: metadata.BindingKindStorageBuffer, Count: 1, Stages: metadata.ShaderStageCompute})
		if err != nil {
			t.Fatalf("allocation %d should still fit: %v", i, err)
		}
	}
	_, err = a.Assign(0, metadata.DescriptorBinding{Binding: 7, Kind: metadata.BindingKindStorageBuffer, Count: 1, Stages: metadata.ShaderStageCompute})
	if !errors.Is(err, core.ErrTooManyObjects) {
		t.Errorf("crossing the graphics region should fail with ErrTooManyObjects, got %v", err)
	}
}

func TestFlatReadOnlyStorageUsesTextureFile(t *testing.T) {
	a := New(metadata.BackendFlat, DefaultLimits())

	ro, err := a.Assign(0, metadata.DescriptorBinding{Binding: 0, Kind: metadata.BindingKindStorageBufferReadOnly, Count: 1, Stages: metadata.ShaderStageCompute})
	if err != nil {
		t.Fatal(err)
	}
	rw, err := a.Assign(0, metadata.DescriptorBinding{Binding: 1, Kind: metadata.BindingKindStorageBuffer, Count: 1, Stages: metadata.ShaderStageCompute})
	if err != nil {
		t.Fatal(err)
	}
	if flatSlot(t, ro).Category == flatSlot(t, rw).Category {
		t.Error("read-only and read-write storage must live in distinct register files")
	}
}

func TestFlatPushConstantsReserved(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxUniformBuffers = 4
	a := New(metadata.BackendFlat, limits)

	pc, err := a.AssignPushConstants(metadata.PushConstantRange{Size: 128})
	if err != nil {
		t.Fatal(err)
	}
	if fs := flatSlot(t, pc); fs.Slot != 3 {
		t.Errorf("push constants should claim the reserved top b register, got %s", fs)
	}
	if _, err := a.AssignPushConstants(metadata.PushConstantRange{Size: 4}); !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("second push-constant range must be rejected, got %v", err)
	}

	// Ordinary uniforms can never collide with the reserved register.
	for i := uint32(0); i < 3; i++ {
		if _, err := a.Assign(0, metadata.DescriptorBinding{Binding: i, Kind: metadata.BindingKindUniformBuffer, Count: 1, Stages: metadata.ShaderStageVertex}); err != nil {
			t.Fatalf("uniform %d should fit below the reserved slot: %v", i, err)
		}
	}
	if _, err := a.Assign(0, metadata.DescriptorBinding{Binding: 3, Kind: metadata.BindingKindUniformBuffer, Count: 1, Stages: metadata.ShaderStageVertex}); !errors.Is(err, core.ErrTooManyObjects) {
		t.Errorf("allocation into the reserved register must fail, got %v", err)
	}
}

func TestHeapRunsAreContiguousAndNotReused(t *testing.T) {
	a := New(metadata.BackendHeap, DefaultLimits())

	first, err := a.Assign(0, metadata.DescriptorBinding{Binding: 0, Kind: metadata.BindingKindSampledImage, Count: 8, Stages: metadata.ShaderStageFragment})
	if err != nil {
		t.Fatal(err)
	}
	ho := first.(metadata.HeapOffset)
	if ho.Heap != metadata.HeapResource || ho.Offset != 0 || ho.Count != 8 {
		t.Errorf("first run should start the resource heap, got %s", ho)
	}

	second, err := a.Assign(1, metadata.DescriptorBinding{Binding: 0, Kind: metadata.BindingKindUniformBuffer, Count: 1, Stages: metadata.ShaderStageVertex})
	if err != nil {
		t.Fatal(err)
	}
	ho2 := second.(metadata.HeapOffset)
	if ho2.Offset != 8 {
		t.Errorf("second run must follow the live first run, got offset %d", ho2.Offset)
	}
	if ho2.Table != 1 {
		t.Errorf("root table should mirror the set index, got %d", ho2.Table)
	}

	// After release the run is recycled exact-fit.
	a.Release(first)
	third, err := a.Assign(0, metadata.DescriptorBinding{Binding: 1, Kind: metadata.BindingKindSampledImage, Count: 8, Stages: metadata.ShaderStageFragment})
	if err != nil {
		t.Fatal(err)
	}
	if third.(metadata.HeapOffset).Offset != 0 {
		t.Errorf("released run of equal size should be recycled, got offset %d", third.(metadata.HeapOffset).Offset)
	}
}

func TestHeapSamplersSeparate(t *testing.T) {
	a := New(metadata.BackendHeap, DefaultLimits())

	img, err := a.Assign(0, metadata.DescriptorBinding{Binding: 0, Kind: metadata.BindingKindSampledImage, Count: 1, Stages: metadata.ShaderStageFragment})
	if err != nil {
		t.Fatal(err)
	}
	smp, err := a.Assign(0, metadata.DescriptorBinding{Binding: 1, Kind: metadata.BindingKindSampler, Count: 1, Stages: metadata.ShaderStageFragment})
	if err != nil {
		t.Fatal(err)
	}
	if img.(metadata.HeapOffset).Heap == smp.(metadata.HeapOffset).Heap {
		t.Error("samplers must come from their own heap")
	}
	// Both start at offset 0 of their heaps without colliding.
	if img.(metadata.HeapOffset).Offset != 0 || smp.(metadata.HeapOffset).Offset != 0 {
		t.Error("separate heaps should allocate independently")
	}
}

func TestArgumentIndexSpaces(t *testing.T) {
	a := New(metadata.BackendArgument, DefaultLimits())

	buf, _ := a.Assign(0, metadata.DescriptorBinding{Binding: 0, Kind: metadata.BindingKindUniformBuffer, Count: 1, Stages: metadata.ShaderStageVertex})
	tex, _ := a.Assign(0, metadata.DescriptorBinding{Binding: 1, Kind: metadata.BindingKindSampledImage, Count: 3, Stages: metadata.ShaderStageFragment})
	smp, _ := a.Assign(0, metadata.DescriptorBinding{Binding: 2, Kind: metadata.BindingKindSampler, Count: 1, Stages: metadata.ShaderStageFragment})

	if buf.(metadata.ArgumentIndex).Space != metadata.ArgumentSpaceBuffer || buf.(metadata.ArgumentIndex).Index != 0 {
		t.Errorf("buffer should take buffer[0], got %s", buf)
	}
	if ai := tex.(metadata.ArgumentIndex); ai.Space != metadata.ArgumentSpaceTexture || ai.Index != 0 || ai.Count != 3 {
		t.Errorf("texture array should take texture[0..2], got %s", tex)
	}
	if smp.(metadata.ArgumentIndex).Space != metadata.ArgumentSpaceSampler {
		t.Errorf("sampler should take the sampler space, got %s", smp)
	}

	pc, err := a.AssignPushConstants(metadata.PushConstantRange{Size: 64})
	if err != nil {
		t.Fatal(err)
	}
	if ai := pc.(metadata.ArgumentIndex); ai.Index != argumentPushConstantIndex {
		t.Errorf("push constants should claim buffer[%d], got %s", argumentPushConstantIndex, pc)
	}
}

func TestUniformArraysExpandPerElement(t *testing.T) {
	a := New(metadata.BackendUniform, DefaultLimits())

	arr, err := a.Assign(2, metadata.DescriptorBinding{Binding: 5, Kind: metadata.BindingKindSampledImage, Count: 3, Stages: metadata.ShaderStageFragment})
	if err != nil {
		t.Fatal(err)
	}
	ul := arr.(metadata.UniformLocations)
	if len(ul.Locations) != 3 {
		t.Fatalf("arrays need one location per element, got %v", ul.Locations)
	}
	for i := 1; i < len(ul.Locations); i++ {
		if ul.Locations[i] != ul.Locations[i-1]+1 {
			t.Errorf("locations should be consecutive, got %v", ul.Locations)
		}
	}

	// Re-assigning the same (category, set, binding) is idempotent.
	again, err := a.Assign(2, metadata.DescriptorBinding{Binding: 5, Kind: metadata.BindingKindSampledImage, Count: 3, Stages: metadata.ShaderStageFragment})
	if err != nil {
		t.Fatal(err)
	}
	if again.(metadata.UniformLocations).Locations[0] != ul.Locations[0] {
		t.Error("repeated assignment of one binding must return the original locations")
	}
}

func TestUniformPushConstantsReserveLocationZero(t *testing.T) {
	a := New(metadata.BackendUniform, DefaultLimits())

	pc, err := a.AssignPushConstants(metadata.PushConstantRange{Size: 16})
	if err != nil {
		t.Fatal(err)
	}
	if pc.(metadata.UniformLocations).Locations[0] != 0 {
		t.Errorf("push constants should hold location 0, got %s", pc)
	}
	buf, err := a.Assign(0, metadata.DescriptorBinding{Binding: 0, Kind: metadata.BindingKindUniformBuffer, Count: 1, Stages: metadata.ShaderStageVertex})
	if err != nil {
		t.Fatal(err)
	}
	if buf.(metadata.UniformLocations).Locations[0] == 0 {
		t.Error("ordinary uniform buffers must not receive the reserved location")
	}
}

// No allocator variant may hand out one address twice within a resource
// category and shader stage. Driven through RegisterAssignment exactly the
// way the pipeline layout manager does it.
func TestNoCategoryStageCollisions(t *testing.T) {
	bindings := []metadata.DescriptorBinding{
		{Binding: 0, Kind: metadata.BindingKindUniformBuffer, Count: 1, Stages: metadata.ShaderStageVertex | metadata.ShaderStageFragment},
		{Binding: 1, Kind: metadata.BindingKindSampledImage, Count: 4, Stages: metadata.ShaderStageFragment},
		{Binding: 2, Kind: metadata.BindingKindSampler, Count: 2, Stages: metadata.ShaderStageFragment},
		{Binding: 3, Kind: metadata.BindingKindStorageBuffer, Count: 1, Stages: metadata.ShaderStageCompute},
		{Binding: 4, Kind: metadata.BindingKindCombinedImageSampler, Count: 1, Stages: metadata.ShaderStageFragment},
	}

	kinds := []metadata.BackendKind{
		metadata.BackendExplicit,
		metadata.BackendFlat,
		metadata.BackendHeap,
		metadata.BackendArgument,
		metadata.BackendUniform,
	}
	for _, kind := range kinds {
		a := New(kind, DefaultLimits())
		ra := metadata.NewRegisterAssignment()
		for set := uint32(0); set < 3; set++ {
			for _, b := range bindings {
				addr, err := a.Assign(set, b)
				if err != nil {
					t.Fatalf("%s: assign %d/%d: %v", kind, set, b.Binding, err)
				}
				ref := metadata.BindingRef{Set: set, Binding: b.Binding}
				if err := ra.Insert(ref, b.Kind.Category(), b.Stages, addr); err != nil {
					t.Errorf("%s: collision at %s: %v", kind, ref, err)
				}
			}
		}
		if ra.Len() != 3*len(bindings) {
			t.Errorf("%s: expected %d assignments, got %d", kind, 3*len(bindings), ra.Len())
		}
	}
}

func TestAssignmentRefsDeterministic(t *testing.T) {
	ra := metadata.NewRegisterAssignment()
	refs := []metadata.BindingRef{{Set: 1, Binding: 2}, {Set: 0, Binding: 7}, {Set: 0, Binding: 1}}
	for i, ref := range refs {
		addr := metadata.FlatSlot{Category: metadata.CategoryTexture, Slot: uint32(i), Count: 1}
		if err := ra.Insert(ref, metadata.CategoryTexture, metadata.ShaderStageFragment, addr); err != nil {
			t.Fatal(err)
		}
	}
	ordered := ra.Refs()
	want := []metadata.BindingRef{{Set: 0, Binding: 1}, {Set: 0, Binding: 7}, {Set: 1, Binding: 2}}
	for i := range want {
		if ordered[i] != want[i] {
			t.Fatalf("refs not ordered, got %v", ordered)
		}
	}
}

func TestAssignmentCollisionIsFatal(t *testing.T) {
	ra := metadata.NewRegisterAssignment()
	addr := metadata.FlatSlot{Category: metadata.CategoryTexture, Slot: 3, Count: 1}

	if err := ra.Insert(metadata.BindingRef{Set: 0, Binding: 0}, metadata.CategoryTexture, metadata.ShaderStageFragment, addr); err != nil {
		t.Fatal(err)
	}
	err := ra.Insert(metadata.BindingRef{Set: 0, Binding: 1}, metadata.CategoryTexture, metadata.ShaderStageFragment, addr)
	if !errors.Is(err, core.ErrInvalidUsage) {
		t.Errorf("aliased address must be rejected with ErrInvalidUsage, got %v", err)
	}

	// Same address is fine on a disjoint stage.
	if err := ra.Insert(metadata.BindingRef{Set: 0, Binding: 2}, metadata.CategoryTexture, metadata.ShaderStageVertex, addr); err != nil {
		t.Errorf("disjoint stages may share an address, got %v", err)
	}
}
