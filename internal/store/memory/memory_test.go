package memory

import (
	"testing"

	"github.com/ppiankov/kycscan/internal/store"
	"github.com/ppiankov/kycscan/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
