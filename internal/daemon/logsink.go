package daemon

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/store"
)

// logPersister copies warn-and-above log lines into app_logs so operators
// can inspect recent problems without shell access. Best effort on a bounded
// queue: when the database is slow the lines are dropped, never the logger
// blocked. Insert failures are swallowed — reporting them would loop.
type logPersister struct {
	store *store.Store
	lines chan []byte
	quit  chan struct{}
	done  chan struct{}
}

func newLogPersister(st *store.Store) *logPersister {
	p := &logPersister{
		store: st,
		lines: make(chan []byte, 256),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// accept is the Sink consumer; it must not block. The channel is never
// closed, so late lines during shutdown are safe and simply dropped.
func (p *logPersister) accept(line []byte) {
	select {
	case p.lines <- line:
	default:
	}
}

func (p *logPersister) run() {
	defer close(p.done)
	for {
		select {
		case line := <-p.lines:
			p.persist(line)
		case <-p.quit:
			for {
				select {
				case line := <-p.lines:
					p.persist(line)
				default:
					return
				}
			}
		}
	}
}

func (p *logPersister) persist(line []byte) {
	var entry struct {
		Level     string `json:"level"`
		Component string `json:"component"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(line, &entry); err != nil {
		return
	}
	if lvl, err := zerolog.ParseLevel(entry.Level); err != nil || lvl < zerolog.WarnLevel {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.store.InsertAppLog(ctx, entry.Level, entry.Component, entry.Message, string(line))
}

func (p *logPersister) stop() {
	close(p.quit)
	<-p.done
}

// AttachLogSink starts persisting warn-and-above log lines into the
// database. Call after New; the persister drains during Stop.
func (d *Daemon) AttachLogSink(sink *log.Sink) {
	if sink == nil {
		return
	}
	d.logPersister = newLogPersister(d.store)
	sink.Attach(d.logPersister.accept)
}
