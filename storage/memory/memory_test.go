package memory

import (
	"testing"

	"github.com/youssefsiam38/chatctx/storage"
	"github.com/youssefsiam38/chatctx/storage/storagetest"
)

func TestContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return New()
	})
}
