package workflow

import "fmt"

// budget counts toolset and generative calls for one run.
type budget struct {
	limit int
	used  int
}

// spend reserves one call, failing when it would exceed the limit.
func (b *budget) spend(operation string) error {
	if b.used+1 > b.limit {
		return fmt.Errorf("%w: %s would be call %d of %d", ErrBudgetExceeded, operation, b.used+1, b.limit)
	}
	b.used++
	return nil
}
