package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// transferStorm runs rounds transfers a→b and rounds transfers b→a at the same time and
// returns every error. A lock-order bug shows up as a deadlock error or as a hang, so the
// storm fails the test if it has not finished within a minute.
func transferStorm(t *testing.T, svc *Service, a, b uuid.UUID, rounds int, ab, ba string) []error {
	t.Helper()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := make(chan struct{})
	send := func(from, to uuid.UUID, amount string) {
		defer wg.Done()
		<-start
		_, err := svc.Transfer(context.Background(), TransferRequest{FromWalletID: from, ToWalletID: to, Amount: ngn(amount)}, testNow)
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go send(a, b, ab)
		go send(b, a, ba)
	}
	close(start)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Minute):
		t.Fatalf("opposite transfers between %s and %s did not finish", a, b)
	}
	return errs
}
