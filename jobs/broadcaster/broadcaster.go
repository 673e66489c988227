package broadcaster

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"strata/domain/model"
	"strata/infra/kafka"
	"strata/infra/queue"
	"strata/service"
)

// Broadcaster forwards node changes to a sink.
//
// With a dispatcher, listeners run there with duplicate avoidance, so a burst
// of commits to one node costs one message. Without one every commit is
// encoded on the committing goroutine. Encoded messages wait in a bounded
// queue until the next flush; a full queue drops and counts.
type Broadcaster struct {
	sink     kafka.Sink
	disp     *model.Dispatcher
	queue    *queue.Recycling[message]
	interval time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	listeners []*model.Listener

	// owned by the flushing goroutine; the one message a failed send left
	pending *message

	sent    atomic.Uint64
	dropped atomic.Uint64
}

type message struct {
	key   []byte
	value []byte
}

type Config struct {
	Interval time.Duration
	Capacity int
}

func New(sink kafka.Sink, disp *model.Dispatcher, cfg Config, log zerolog.Logger) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 4096
	}
	return &Broadcaster{
		sink:     sink,
		disp:     disp,
		queue:    queue.NewRecycling[message](cfg.Capacity),
		interval: cfg.Interval,
		log:      log.With().Str("job", "broadcaster").Logger(),
	}
}

// ------------------------------------------------
// SUBSCRIPTIONS
// ------------------------------------------------

// Watch starts forwarding changes of n.
func (b *Broadcaster) Watch(n model.Noder) {
	var opts []model.ListenOption
	if b.disp != nil {
		opts = append(opts, model.OnDispatcher(b.disp), model.AvoidDuplicate())
	}
	l := n.OnChanged().Connect(b.enqueue, opts...)

	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

func (b *Broadcaster) enqueue(ev model.Event) {
	msg, err := encodeEvent(ev)
	if err != nil {
		b.dropped.Add(1)
		b.log.Warn().Err(err).Str("path", ev.Node.Path()).Msg("event not encodable")
		return
	}
	if err := b.queue.Push(msg); err != nil {
		b.dropped.Add(1)
		b.log.Warn().Str("path", ev.Node.Path()).Msg("broadcast queue full, event dropped")
	}
}

// encodeEvent renders ev as protojson keyed by node path, so one node's
// events stay on one partition.
func encodeEvent(ev model.Event) (message, error) {
	v, err := service.EncodeValue(ev.Value)
	if err != nil {
		return message{}, err
	}
	path := ev.Node.Path()
	body, err := protojson.Marshal(&structpb.Struct{Fields: map[string]*structpb.Value{
		"path":   structpb.NewStringValue(path),
		"seq":    structpb.NewStringValue(strconv.FormatUint(ev.Seq, 10)),
		"serial": structpb.NewStringValue(strconv.FormatUint(ev.Serial, 10)),
		"value":  v,
	}})
	if err != nil {
		return message{}, err
	}
	return message{key: []byte(path), value: body}, nil
}

// ------------------------------------------------
// LOOP
// ------------------------------------------------

// Run flushes every interval until ctx ends.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.Info().Dur("interval", b.interval).Msg("started")

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := b.Flush(ctx); err != nil {
				b.log.Warn().Err(err).Int("queued", b.queue.Len()).Msg("sink send failed")
			}
		}
	}
}

// Flush sends everything queued so far. A message whose send fails is
// retried first on the next call and holds the rest back in the queue, which
// keeps buffering bounded by its capacity. Flush must not run concurrently
// with itself.
func (b *Broadcaster) Flush(ctx context.Context) (int, error) {
	sent := 0
	for {
		if b.pending == nil {
			msg, ok := b.queue.Pop()
			if !ok {
				return sent, nil
			}
			b.pending = &msg
		}
		if err := b.sink.Send(ctx, b.pending.key, b.pending.value); err != nil {
			return sent, err
		}
		b.pending = nil
		sent++
		b.sent.Add(1)
	}
}

func (b *Broadcaster) Sent() uint64    { return b.sent.Load() }
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

// Close stops watching and closes the sink. Unsent messages are lost.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	for _, l := range b.listeners {
		l.Disconnect()
	}
	b.listeners = nil
	b.mu.Unlock()
	return b.sink.Close()
}
