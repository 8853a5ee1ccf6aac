package parallel

import (
	"fmt"
	"slices"

	"github.com/nemanja-m/goparallel/pkg/core"
)

type outcome struct {
	index  int
	result *core.TaskResult
	err    error
}

// assembler rebuilds the results of one operator call by slice index. The
// call is rejected as soon as the lowest index without a successful result
// has failed, so the first error in index order wins regardless of arrival
// order. Results arriving after that are recorded in ignored.
type assembler struct {
	outcomes []*outcome
	validate func(int, any) error
	next     int
	err      error
	ignored  []int
}

func newAssembler(n int, validate func(int, any) error) *assembler {
	return &assembler{outcomes: make([]*outcome, n), validate: validate}
}

func (a *assembler) add(o outcome) {
	index := o.index
	if o.result != nil {
		index = o.result.Index
	}
	if index < 0 || index >= len(a.outcomes) {
		panic(fmt.Sprintf("parallel: result index %d out of range [0, %d)", index, len(a.outcomes)))
	}
	if a.outcomes[index] != nil {
		panic(fmt.Sprintf("parallel: duplicate result for index %d", index))
	}
	a.outcomes[index] = &o

	if a.err != nil {
		a.ignored = append(a.ignored, index)
		slices.Sort(a.ignored)
		return
	}
	for a.next < len(a.outcomes) && a.outcomes[a.next] != nil {
		if err := a.check(a.next); err != nil {
			a.err = err
			for i := a.next + 1; i < len(a.outcomes); i++ {
				if a.outcomes[i] != nil {
					a.ignored = append(a.ignored, i)
				}
			}
			return
		}
		a.next++
	}
}

func (a *assembler) check(index int) error {
	o := a.outcomes[index]
	switch {
	case o.err != nil:
		return o.err
	case o.result.Failed():
		return o.result.Err.AsError()
	case a.validate != nil:
		return a.validate(index, o.result.Value)
	}
	return nil
}

func (a *assembler) decided() bool {
	return a.err != nil || a.next == len(a.outcomes)
}

func (a *assembler) values() ([]any, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.next != len(a.outcomes) {
		panic(fmt.Sprintf("parallel: %d of %d results missing", len(a.outcomes)-a.next, len(a.outcomes)))
	}
	out := make([]any, len(a.outcomes))
	for i, o := range a.outcomes {
		out[i] = o.result.Value
	}
	return out, nil
}
