package sitesmith

import (
	"pkt.systems/sitesmith/core"
	"pkt.systems/sitesmith/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnEvent(event schema.Event) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnEvent(event)
	}
}
