package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agritrace/agritracechain/layer-2/repository"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("name is required"), http.StatusBadRequest},
		{"authentication", Authentication("bad signature"), http.StatusBadRequest},
		{"unauthorized", Unauthorized("missing token"), http.StatusUnauthorized},
		{"not found", NotFound("product %s not found", "p1"), http.StatusNotFound},
		{"conflict", Conflict("stale"), http.StatusConflict},
		{"wrapped", fmt.Errorf("handler: %w", NotFound("x")), http.StatusNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestFromRepository(t *testing.T) {
	assert.Nil(t, FromRepository(nil))

	err := FromRepository(&repository.RepositoryError{Code: repository.CodeNotFound, Message: "Product not found", Detail: "Product p1 does not exist"})
	assert.Equal(t, KindNotFound, err.Kind)
	assert.Equal(t, "Product p1 does not exist", PublicMessage(err))

	err = FromRepository(&repository.RepositoryError{Code: repository.CodeVersionConflict, Detail: "stale"})
	assert.Equal(t, KindConflict, err.Kind)

	err = FromRepository(&repository.RepositoryError{Code: repository.CodeDatabaseError, Message: "Database error", Detail: "connection reset"})
	assert.Equal(t, KindInternal, err.Kind)
	assert.Equal(t, "Internal server error", PublicMessage(err))
}
