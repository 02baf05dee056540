// Package loader coordinates image loads for consumers identified by a handle.
// A load is answered from memory when possible; otherwise a task is queued
// that tries the disk tier, fetches or reads the source, decodes it, fills
// both cache tiers and hands the result to the delivery sink.
package loader

import (
	"context"
	"image"

	"imgload/pkg/common"
)

// Result is what a successful load delivers.
type Result struct {
	Source common.Source
	Key    common.Key
	Image  image.Image
	// Tier tells where the image came from: "memory", "disk" or "source".
	Tier string
}

// TierSource marks results produced by decoding the source itself.
const TierSource = "source"

// Listener observes one load. Exactly one of End, Cancel or Fail is called
// for a load that was started.
type Listener interface {
	Start(src common.Source)
	// Progress reports transfer progress for remote sources. total is -1 when unknown.
	Progress(src common.Source, loaded, total int64)
	End(src common.Source, res Result)
	Cancel(src common.Source)
	Fail(src common.Source, err error)
}

// ListenerFuncs adapts optional functions to a Listener. The zero value ignores everything.
type ListenerFuncs struct {
	OnStart    func(src common.Source)
	OnProgress func(src common.Source, loaded, total int64)
	OnEnd      func(src common.Source, res Result)
	OnCancel   func(src common.Source)
	OnFail     func(src common.Source, err error)
}

func (f ListenerFuncs) Start(src common.Source) {
	if f.OnStart != nil {
		f.OnStart(src)
	}
}

func (f ListenerFuncs) Progress(src common.Source, loaded, total int64) {
	if f.OnProgress != nil {
		f.OnProgress(src, loaded, total)
	}
}

func (f ListenerFuncs) End(src common.Source, res Result) {
	if f.OnEnd != nil {
		f.OnEnd(src, res)
	}
}

func (f ListenerFuncs) Cancel(src common.Source) {
	if f.OnCancel != nil {
		f.OnCancel(src)
	}
}

func (f ListenerFuncs) Fail(src common.Source, err error) {
	if f.OnFail != nil {
		f.OnFail(src, err)
	}
}

// Decoder turns a local file into an image no larger than hint.
type Decoder interface {
	DecodeFile(ctx context.Context, path string, hint common.Size) (image.Image, error)
}

// Sink receives results for handles. Deliver runs on a worker goroutine (or
// on the caller's goroutine for memory hits); implementations that must touch
// a single-threaded consumer should marshal the call themselves.
type Sink[H comparable] interface {
	Deliver(h H, res Result)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc[H comparable] func(h H, res Result)

func (f SinkFunc[H]) Deliver(h H, res Result) { f(h, res) }
