package projections

import "github.com/segmentio/kafka-go"

// Committing a Kafka offset acknowledges everything at or below it on that
// partition, so an offset may only be committed once every earlier fetched
// offset has been applied. offsetTracker computes that watermark: parked
// events keep their partition's commit position pinned even while later
// offsets finish.
type offsetTracker struct {
	partitions map[topicPartition]*partitionProgress
}

type topicPartition struct {
	topic     string
	partition int
}

type partitionProgress struct {
	queue   []int64
	applied map[int64]bool
	byOff   map[int64]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[topicPartition]*partitionProgress)}
}

func (t *offsetTracker) progress(msg kafka.Message) *partitionProgress {
	key := topicPartition{topic: msg.Topic, partition: msg.Partition}
	p, ok := t.partitions[key]
	if !ok {
		p = &partitionProgress{
			applied: make(map[int64]bool),
			byOff:   make(map[int64]kafka.Message),
		}
		t.partitions[key] = p
	}
	return p
}

// Fetched records a message the consumer pulled. Kafka delivers offsets per
// partition in increasing order, so the queue stays sorted by construction.
func (t *offsetTracker) Fetched(msg kafka.Message) {
	p := t.progress(msg)
	p.queue = append(p.queue, msg.Offset)
	p.byOff[msg.Offset] = msg
}

// Applied marks the message's effect durable and returns the newest message
// that may now be committed, if the contiguous applied prefix advanced.
func (t *offsetTracker) Applied(msg kafka.Message) (kafka.Message, bool) {
	p := t.progress(msg)
	// A redelivered message may be acknowledged again after its offset was
	// already committed and dropped; recording it would grow applied forever.
	if _, tracked := p.byOff[msg.Offset]; !tracked {
		return kafka.Message{}, false
	}
	p.applied[msg.Offset] = true

	var last kafka.Message
	var ok bool
	for len(p.queue) > 0 && p.applied[p.queue[0]] {
		offset := p.queue[0]
		last, ok = p.byOff[offset], true
		delete(p.applied, offset)
		delete(p.byOff, offset)
		p.queue = p.queue[1:]
	}
	return last, ok
}

// Pending reports how many fetched offsets on the message's partition are
// still awaiting commit.
func (t *offsetTracker) Pending(msg kafka.Message) int {
	key := topicPartition{topic: msg.Topic, partition: msg.Partition}
	p, ok := t.partitions[key]
	if !ok {
		return 0
	}
	return len(p.queue)
}
