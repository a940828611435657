package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"surveySync/internal/model"
)

// Topic binds an event kind to its topic0 signature hash.
type Topic struct {
	Kind      model.EventKind
	Signature common.Hash
}

// TopicTable is the immutable, ordered set of topics the indexer follows.
// Iteration order is by event kind name.
type TopicTable struct {
	topics []Topic
	byHash map[common.Hash]model.EventKind
}

// NewTopicTable builds a table from topics, rejecting duplicate kinds or hashes.
func NewTopicTable(topics []Topic) (TopicTable, error) {
	ordered := make([]Topic, len(topics))
	copy(ordered, topics)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Kind < ordered[j].Kind })

	byHash := make(map[common.Hash]model.EventKind, len(ordered))
	for i, topic := range ordered {
		if topic.Kind == "" {
			return TopicTable{}, fmt.Errorf("topic %s has no event name", topic.Signature.Hex())
		}
		if i > 0 && ordered[i-1].Kind == topic.Kind {
			return TopicTable{}, fmt.Errorf("duplicate event name in topic table: %s", topic.Kind)
		}
		if prev, ok := byHash[topic.Signature]; ok {
			return TopicTable{}, fmt.Errorf("topic %s mapped to both %s and %s", topic.Signature.Hex(), prev, topic.Kind)
		}
		byHash[topic.Signature] = topic.Kind
	}

	return TopicTable{topics: ordered, byHash: byHash}, nil
}

// TopicsFromABI derives a table from every non-anonymous event declared in the ABI.
func TopicsFromABI(contractABI abi.ABI) (TopicTable, error) {
	topics := make([]Topic, 0, len(contractABI.Events))
	for name, event := range contractABI.Events {
		if event.Anonymous {
			continue
		}
		topics = append(topics, Topic{Kind: model.EventKind(name), Signature: event.ID})
	}
	return NewTopicTable(topics)
}

// ParseTopicTable converts an operator-curated name -> hash mapping into a table.
// Names are matched case-insensitively against the ABI's event names because
// config loaders may lowercase map keys; unmatched names are kept verbatim.
func ParseTopicTable(raw map[string]string, contractABI abi.ABI) (TopicTable, error) {
	canonical := make(map[string]string, len(contractABI.Events))
	for name := range contractABI.Events {
		canonical[strings.ToLower(name)] = name
	}

	topics := make([]Topic, 0, len(raw))
	for name, hash := range raw {
		name = strings.TrimSpace(name)
		if known, ok := canonical[strings.ToLower(name)]; ok {
			name = known
		}
		signature, err := ParseTopicHash(hash)
		if err != nil {
			return TopicTable{}, fmt.Errorf("topic %s: %w", name, err)
		}
		topics = append(topics, Topic{Kind: model.EventKind(name), Signature: signature})
	}
	return NewTopicTable(topics)
}

// ParseTopicHash converts a 0x-prefixed 32-byte hex string into a hash.
func ParseTopicHash(input string) (common.Hash, error) {
	input = strings.TrimSpace(input)
	data, err := hexutil.Decode(input)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid topic0: %s", input)
	}
	if len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid topic0 length: %s", input)
	}
	return common.BytesToHash(data), nil
}

// Topics returns the table entries in iteration order.
func (t TopicTable) Topics() []Topic {
	out := make([]Topic, len(t.topics))
	copy(out, t.topics)
	return out
}

// Kind resolves a topic0 hash to its event kind.
func (t TopicTable) Kind(signature common.Hash) (model.EventKind, bool) {
	kind, ok := t.byHash[signature]
	return kind, ok
}

// Len returns the number of topics.
func (t TopicTable) Len() int {
	return len(t.topics)
}
