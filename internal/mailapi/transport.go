// Package mailapi talks to the remote mailbox. A Transport makes single raw calls;
// the Client layers batching, retries, rate limiting, the shared quota gate and the
// circuit breaker on top.
package mailapi

import (
	"context"
	"sort"

	"mailsweep/internal/model"
)

// MaxBatchSize is the largest id batch the remote API accepts in one call.
const MaxBatchSize = 100

// Page is one page of message ids.
type Page struct {
	IDs           []string
	NextPageToken string
}

// Transport performs raw remote calls with no retry.
//
// Per-id failures are returned in the map; a non-nil error means the whole call
// failed and applies to every id.
type Transport interface {
	ListPage(ctx context.Context, query string, includeSpamTrash bool, pageToken string, pageSize int64) (Page, error)
	GetBatch(ctx context.Context, ids []string) ([]model.MessageSummary, map[string]error, error)
	Modify(ctx context.Context, ids []string, add, remove []string) (map[string]error, error)
	Trash(ctx context.Context, ids []string) (map[string]error, error)
}

// MutationKind names what a Mutation does.
type MutationKind string

const (
	MutationTrash        MutationKind = "trash"
	MutationAddLabels    MutationKind = "add_labels"
	MutationRemoveLabels MutationKind = "remove_labels"
	MutationModify       MutationKind = "modify"
)

// Mutation is a label change applied to a set of ids.
type Mutation struct {
	Kind   MutationKind
	Add    []string
	Remove []string
}

func Trash() Mutation { return Mutation{Kind: MutationTrash} }

func AddLabels(labels ...string) Mutation {
	return Mutation{Kind: MutationAddLabels, Add: labels}
}

func RemoveLabels(labels ...string) Mutation {
	return Mutation{Kind: MutationRemoveLabels, Remove: labels}
}

func Modify(add, remove []string) Mutation {
	return Mutation{Kind: MutationModify, Add: add, Remove: remove}
}

// Outcomes maps each requested id to its final error, nil on success.
type Outcomes map[string]error

// Succeeded returns the ids that succeeded, sorted.
func (o Outcomes) Succeeded() []string {
	out := make([]string, 0, len(o))
	for id, err := range o {
		if err == nil {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Failed returns only the failed ids.
func (o Outcomes) Failed() map[string]error {
	out := make(map[string]error)
	for id, err := range o {
		if err != nil {
			out[id] = err
		}
	}
	return out
}

// Chunk splits ids into batches no larger than size, clamped to MaxBatchSize.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
