package nats

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/crypto/blake2b"

	"github.com/codewandler/eventstore-go/core/es"
	"github.com/codewandler/eventstore-go/ports/eventlog"
)

const (
	defaultSubjectPrefix = "es.events"
	defaultStreamName    = "EVENTSTORE"

	headerStreamID   = "x-stream-id"
	headerFirstEvent = "x-first-event"
	headerEventCount = "x-event-count"

	// A batch is one message; positions carry the index within it.
	batchBits    = 16
	MaxBatchSize = 1<<batchBits - 1
)

var ErrBatchTooLarge = errors.New("batch too large")

// RetentionPolicy defines how messages are retained in the stream.
type RetentionPolicy int

const (
	// RetentionLimits keeps messages until limits (MaxMsgs, MaxBytes, MaxAge) are reached.
	RetentionLimits RetentionPolicy = iota
	// RetentionInterest keeps messages only while consumers have interest.
	RetentionInterest
)

func (r RetentionPolicy) toJetStream() jetstream.RetentionPolicy {
	if r == RetentionInterest {
		return jetstream.InterestPolicy
	}
	return jetstream.LimitsPolicy
}

type LogConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix is the prefix of the per-stream subjects, default "es.events"
	StreamName    string       // StreamName is the JetStream stream, default "EVENTSTORE"
	Retention     RetentionPolicy
	// Memory keeps the stream in memory instead of on disk. For tests.
	Memory bool
	// MaxAge limits how long messages are kept. Zero keeps them forever.
	MaxAge time.Duration
}

// batch is the payload of one message.
type batch struct {
	StreamID string     `json:"stream_id"`
	First    int64      `json:"first"`
	Events   []es.Event `json:"events"`
}

// Log is an eventlog.Log on a JetStream stream. Every stream id maps to one
// subject; each append is a single message guarded by the expected last
// sequence of that subject, so a batch becomes visible all at once or not at
// all.
type Log struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
}

func NewLog(cfg LogConfig) (*Log, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("log", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subjectPrefix", subjectPrefix),
	)

	storage := jetstream.FileStorage
	if cfg.Memory {
		storage = jetstream.MemoryStorage
	}

	stream, info, err := ensureStream(js, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Retention:  cfg.Retention.toJetStream(),
		Storage:    storage,
		MaxAge:     cfg.MaxAge,
		FirstSeq:   1,
		DenyDelete: true,
		DenyPurge:  true,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		closeNc()
		return nil, err
	}

	log.Debug("ensured", slog.Uint64("last_seq", info.State.LastSeq))

	return &Log{
		nc:            nc,
		closeNc:       closeNc,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
	}, nil
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

func (l *Log) Close() error {
	l.js.CleanupPublisher()
	l.closeNc()
	l.log.Debug("closed log")
	return nil
}

// subjectFor hashes the stream id: ids may contain any character, subject
// tokens may not.
func (l *Log) subjectFor(streamID string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(streamID))
	return l.subjectPrefix + "." + hex.EncodeToString(h.Sum(nil))
}

func position(seq uint64, i int) es.LogPosition {
	return es.LogPosition(seq<<batchBits | uint64(i))
}

func splitPosition(pos es.LogPosition) (seq uint64, i int) {
	return uint64(pos) >> batchBits, int(uint64(pos) & MaxBatchSize)
}

func (l *Log) Append(ctx context.Context, streamID string, first int64, events []es.Event) ([]es.LogPosition, error) {
	if len(events) == 0 {
		return nil, nil
	}
	if len(events) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d events, at most %d", ErrBatchTooLarge, len(events), MaxBatchSize)
	}

	subject := l.subjectFor(streamID)

	// the subject must end exactly before first
	lastSeq := uint64(0)
	last, err := l.lastBatch(ctx, subject)
	if err != nil {
		return nil, err
	}
	next := int64(0)
	if last != nil {
		lastSeq = last.seq
		next = last.first + int64(last.count)
	}
	if next != first {
		return nil, fmt.Errorf("%w: stream %s continues at %d, append at %d", es.ErrConcurrencyConflict, streamID, next, first)
	}

	return l.publish(ctx, subject, streamID, first, lastSeq, events)
}

// publish writes the batch only if the subject still ends at lastSeq.
func (l *Log) publish(ctx context.Context, subject, streamID string, first int64, lastSeq uint64, events []es.Event) ([]es.LogPosition, error) {
	msg := natsgo.NewMsg(subject)
	msg.Header.Set(headerStreamID, streamID)
	msg.Header.Set(headerFirstEvent, strconv.FormatInt(first, 10))
	msg.Header.Set(headerEventCount, strconv.Itoa(len(events)))
	var err error
	msg.Data, err = json.Marshal(batch{StreamID: streamID, First: first, Events: events})
	if err != nil {
		return nil, err
	}

	ack, err := l.js.PublishMsg(ctx, msg,
		jetstream.WithExpectLastSequencePerSubject(lastSeq),
		jetstream.WithMsgID(msgID(streamID, first, events)),
	)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return nil, fmt.Errorf("%w: stream %s moved while appending at %d", es.ErrConcurrencyConflict, streamID, first)
		}
		return nil, fmt.Errorf("publish to %s: %w", subject, err)
	}
	// dropped within the duplicates window, nothing new was written
	if ack.Duplicate {
		return nil, fmt.Errorf("%w: stream %s already has a batch at %d (seq %d)", es.ErrConcurrencyConflict, streamID, first, ack.Sequence)
	}

	positions := make([]es.LogPosition, len(events))
	for i := range events {
		positions[i] = position(ack.Sequence, i)
	}
	return positions, nil
}

// msgID covers every event id, so only a byte-for-byte retry of a batch is
// deduplicated by the server.
func msgID(streamID string, first int64, events []es.Event) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(streamID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(first, 10)))
	for _, e := range events {
		h.Write([]byte{0})
		h.Write([]byte(e.ID))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type batchHead struct {
	seq   uint64
	first int64
	count int
}

func parseBatchHead(seq uint64, h natsgo.Header) (*batchHead, error) {
	first, err := strconv.ParseInt(h.Get(headerFirstEvent), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("message %d: bad %s header: %w", seq, headerFirstEvent, err)
	}
	count, err := strconv.Atoi(h.Get(headerEventCount))
	if err != nil {
		return nil, fmt.Errorf("message %d: bad %s header: %w", seq, headerEventCount, err)
	}
	return &batchHead{seq: seq, first: first, count: count}, nil
}

func (b *batchHead) contains(n int64) bool { return n >= b.first && n < b.first+int64(b.count) }

func (l *Log) lastBatch(ctx context.Context, subject string) (*batchHead, error) {
	m, err := l.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last message for %s: %w", subject, err)
	}
	return parseBatchHead(m.Sequence, m.Header)
}

func (l *Log) readBatch(ctx context.Context, seq uint64) (*batch, error) {
	m, err := l.stream.GetMsg(ctx, seq)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, fmt.Errorf("%w: sequence %d", eventlog.ErrPositionNotFound, seq)
		}
		return nil, err
	}
	b := &batch{}
	if err := json.Unmarshal(m.Data, b); err != nil {
		return nil, fmt.Errorf("decode message %d: %w", seq, err)
	}
	return b, nil
}

func (l *Log) Read(ctx context.Context, pos es.LogPosition) (es.EventRecord, error) {
	seq, i := splitPosition(pos)
	b, err := l.readBatch(ctx, seq)
	if err != nil {
		return es.EventRecord{}, err
	}
	if i >= len(b.Events) {
		return es.EventRecord{}, fmt.Errorf("%w: %d", eventlog.ErrPositionNotFound, pos)
	}
	return es.Record(b.StreamID, b.First+int64(i), pos, b.Events[i]), nil
}

func (l *Log) ReadEventID(ctx context.Context, pos es.LogPosition) (string, error) {
	r, err := l.Read(ctx, pos)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (l *Log) LastEventNumber(ctx context.Context, streamID string) (int64, error) {
	last, err := l.lastBatch(ctx, l.subjectFor(streamID))
	if err != nil || last == nil {
		return -1, err
	}
	return last.first + int64(last.count) - 1, nil
}

// PositionOf answers from the last batch when it can and otherwise scans the
// headers of the stream's subject.
func (l *Log) PositionOf(ctx context.Context, streamID string, number int64) (es.LogPosition, error) {
	subject := l.subjectFor(streamID)
	last, err := l.lastBatch(ctx, subject)
	if err != nil {
		return 0, err
	}
	if last == nil || number < 0 || number >= last.first+int64(last.count) {
		return 0, fmt.Errorf("%w: %s@%d", eventlog.ErrEventNotFound, streamID, number)
	}
	if last.contains(number) {
		return position(last.seq, int(number-last.first)), nil
	}

	cc, err := l.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subject},
		HeadersOnly:    true,
	})
	if err != nil {
		return 0, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		mb, err := cc.Fetch(100, jetstream.FetchMaxWait(time.Second))
		if err != nil {
			return 0, err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			md, err := msg.Metadata()
			if err != nil {
				return 0, err
			}
			b, err := parseBatchHead(md.Sequence.Stream, msg.Headers())
			if err != nil {
				return 0, err
			}
			if b.contains(number) {
				return position(b.seq, int(number-b.first)), nil
			}
			if b.seq >= last.seq {
				return 0, fmt.Errorf("%w: %s@%d", eventlog.ErrEventNotFound, streamID, number)
			}
		}
		if mb.Error() != nil {
			return 0, mb.Error()
		}
		if empty {
			return 0, fmt.Errorf("%w: %s@%d", eventlog.ErrEventNotFound, streamID, number)
		}
	}
}

var (
	_ eventlog.Log          = (*Log)(nil)
	_ eventlog.Reader       = (*Log)(nil)
	_ eventlog.RecordReader = (*Log)(nil)
)
