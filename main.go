/*
This is an example application that drives the hal package headless: it
records a small render pass every frame on the software backend and blits
the result into an in-memory image, writing the last frame to disk.
*/
package main

import (
	"image"
	"image/png"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spaghettifunk/vasari/engine/config"
	"github.com/spaghettifunk/vasari/engine/core"
	"github.com/spaghettifunk/vasari/engine/hal"
	"github.com/spaghettifunk/vasari/engine/hal/metadata"
	"github.com/spaghettifunk/vasari/engine/hal/software"
)

const (
	frameWidth  = 256
	frameHeight = 256
)

func main() {
	cfg, err := config.Load("vasari.toml")
	if err != nil {
		panic(err)
	}

	instance, err := hal.NewInstance("vasari-demo", cfg)
	if err != nil {
		panic(err)
	}
	device, err := instance.CreateDevice()
	if err != nil {
		panic(err)
	}

	target := image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))
	if soft, ok := device.Backend().(*software.Backend); ok {
		soft.SetPresentTarget(target)
	}

	pass, err := device.CreateRenderPass(metadata.RenderPassDesc{
		Attachments: []metadata.AttachmentDescription{{
			Format:        metadata.FormatRGBA8Unorm,
			LoadOp:        metadata.AttachmentLoadOpClear,
			StoreOp:       metadata.AttachmentStoreOpStore,
			InitialLayout: metadata.ImageLayoutUndefined,
			FinalLayout:   metadata.ImageLayoutPresentSrc,
		}},
		Subpasses: []metadata.SubpassDescription{{
			ColorRefs: []metadata.AttachmentReference{{Attachment: 0, Layout: metadata.ImageLayoutColorAttachmentOptimal}},
		}},
	})
	if err != nil {
		panic(err)
	}
	color, err := device.CreateImage(hal.ImageDesc{
		Extent: metadata.Extent3D{Width: frameWidth, Height: frameHeight},
		Format: metadata.FormatRGBA8Unorm,
		Usage:  metadata.TextureUsageColorAttachment | metadata.TextureUsageTransferSrc,
	})
	if err != nil {
		panic(err)
	}
	framebuffer, err := device.CreateFramebuffer(pass, []*hal.Image{color}, frameWidth, frameHeight)
	if err != nil {
		panic(err)
	}

	pool, err := device.CreateCommandPool()
	if err != nil {
		panic(err)
	}
	cb, err := pool.Allocate(hal.CommandBufferPrimary)
	if err != nil {
		panic(err)
	}
	fence, err := device.CreateFence(true)
	if err != nil {
		panic(err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	clock := core.NewClock()
	clock.Start()
	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()

	queue := device.GraphicsQueue()
	running := true
	for running {
		select {
		case <-sigCh:
			running = false
		case <-ticker.C:
			clock.Update()
			if err := renderFrame(queue, pool, cb, fence, pass, framebuffer, color, clock.Elapsed()); err != nil {
				core.LogError("frame failed: %s", err.Error())
				running = false
			}
			device.Collect()
		}
	}

	if err := device.WaitIdle(); err != nil {
		core.LogError("wait idle failed: %s", err.Error())
	}
	writeFrame(target, "frame.png")

	framebuffer.Destroy()
	color.Destroy()
	pass.Destroy()
	fence.Destroy()
	pool.Destroy()
	if err := device.Destroy(); err != nil {
		core.LogError("device destroy failed: %s", err.Error())
	}
	instance.Shutdown()
}

// renderFrame records one pass that clears the attachment to a slowly
// cycling color, submits it, and presents the result.
func renderFrame(queue *hal.Queue, pool *hal.CommandPool, cb *hal.CommandBuffer, fence *hal.Fence,
	pass *hal.RenderPass, framebuffer *hal.Framebuffer, color *hal.Image, elapsed time.Duration) error {
	if err := pool.Reset(); err != nil {
		return err
	}
	if err := fence.Reset(); err != nil {
		return err
	}
	if err := cb.Begin(hal.UsageOneTimeSubmit, nil); err != nil {
		return err
	}

	phase := elapsed.Seconds()
	clear := metadata.ClearValue{Color: [4]float32{
		float32(0.5 + 0.5*math.Sin(phase)),
		float32(0.5 + 0.5*math.Sin(phase+2.0)),
		float32(0.5 + 0.5*math.Sin(phase+4.0)),
		1.0,
	}}
	area := metadata.RenderArea{Width: frameWidth, Height: frameHeight}
	if err := cb.BeginRenderPass(pass, framebuffer, area, []metadata.ClearValue{clear}, metadata.SubpassContentsInline); err != nil {
		return err
	}
	if err := cb.EndRenderPass(); err != nil {
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}

	if err := queue.Submit([]hal.SubmitInfo{{CommandBuffers: []*hal.CommandBuffer{cb}}}, fence); err != nil {
		return err
	}
	if err := fence.Wait(5 * time.Second); err != nil {
		return err
	}
	return queue.Present(nil, color)
}

func writeFrame(target *image.RGBA, path string) {
	f, err := os.Create(path)
	if err != nil {
		core.LogError("failed to create %s: %s", path, err.Error())
		return
	}
	defer f.Close()
	if err := png.Encode(f, target); err != nil {
		core.LogError("failed to encode %s: %s", path, err.Error())
	}
	core.LogInfo("wrote %s", path)
}
