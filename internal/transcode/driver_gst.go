//go:build gstreamer

package transcode

import (
	"fmt"
	"io"
	"sync"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
)

const driverAvailable = true

var gstInit sync.Once

// openStream builds a decode-to-mp3 pipeline terminated by an appsink
// the Read loop pulls from.
func openStream(path string, bitrateKbit int) (io.ReadCloser, error) {
	gstInit.Do(func() { gst.Init(nil) })

	desc := fmt.Sprintf(
		"filesrc location=%q ! decodebin ! audioconvert ! audioresample ! lamemp3enc bitrate=%d ! appsink name=sink sync=false",
		path, bitrateKbit)
	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("transcode: build pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("transcode: locate appsink: %w", err)
	}
	sink := app.SinkFromElement(elem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("transcode: start pipeline: %w", err)
	}
	return &gstStream{pipeline: pipeline, sink: sink}, nil
}

type gstStream struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	pending  []byte
}

func (s *gstStream) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		if s.sink.IsEOS() {
			return 0, io.EOF
		}
		sample := s.sink.PullSample()
		if sample == nil {
			return 0, io.EOF
		}
		buffer := sample.GetBuffer()
		if buffer == nil {
			continue
		}
		mapped := buffer.Map(gst.MapRead)
		s.pending = append(s.pending, mapped.Bytes()...)
		buffer.Unmap()
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Close tears the pipeline down; used both for normal completion and
// to abort when the client disconnects mid-stream.
func (s *gstStream) Close() error {
	return s.pipeline.SetState(gst.StateNull)
}
