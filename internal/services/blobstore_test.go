package services_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AnshRaj112/medconsult-backend/internal/services"
)

func TestUnconfiguredBlobStore(t *testing.T) {
	url, err := services.UnconfiguredBlobStore{}.Upload(context.Background(), strings.NewReader("x"), "chat/a_b/1")
	assert.ErrorIs(t, err, services.ErrBlobStoreUnconfigured)
	assert.Empty(t, url)
}

func TestNewCloudinaryBlobStore(t *testing.T) {
	store, err := services.NewCloudinaryBlobStore("demo", "key", "secret")
	assert.NoError(t, err)
	assert.NotNil(t, store)
}
