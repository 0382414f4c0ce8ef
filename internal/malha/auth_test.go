package malha

import (
	"context"
	"testing"
	"time"

	"github.com/nexconsult/malha-fiscal/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate_Success(t *testing.T) {
	page := newPortal()
	session := NewSession(page, testOptions())

	state, err := Authenticate(context.Background(), session, "u", "p")
	require.NoError(t, err)
	assert.Equal(t, Authenticated, state)
	assert.Equal(t, Authenticated, session.State)
	assert.Equal(t, 1, page.countCalls("navigate https://contribuinte.sefaz.al.gov.br/malhafiscal/#"))
	assert.Equal(t, 1, page.countCalls("type #username"))
	assert.Equal(t, 1, page.countCalls("type #password"))
	assert.Equal(t, 1, page.countCalls("click #button-entrar"))
}

func TestAuthenticate_Rejected(t *testing.T) {
	sel := DefaultSelectors()
	page := newPortal()
	page.onClick[sel.LoginButton] = func(f *fakePage) {
		f.present[sel.LoginError] = true
	}
	session := NewSession(page, testOptions())

	state, err := Authenticate(context.Background(), session, "u", "bad")
	require.NoError(t, err)
	assert.Equal(t, Rejected, state)
	assert.Equal(t, Rejected, session.State)
}

func TestAuthenticate_BothSignalsFailClosed(t *testing.T) {
	sel := DefaultSelectors()
	page := newPortal()
	page.onClick[sel.LoginButton] = func(f *fakePage) {
		f.present[sel.LoggedUser] = true
		f.present[sel.LoginError] = true
	}
	session := NewSession(page, testOptions())

	state, err := Authenticate(context.Background(), session, "u", "p")
	require.NoError(t, err)
	assert.Equal(t, Rejected, state)
}

func TestAuthenticate_Timeout(t *testing.T) {
	sel := DefaultSelectors()
	page := newPortal()
	delete(page.onClick, sel.LoginButton)
	session := NewSession(page, testOptions())

	state, err := Authenticate(context.Background(), session, "u", "p")
	assert.Equal(t, AuthFailure, state)
	assert.ErrorIs(t, err, ErrAuthTimeout)
	assert.False(t, retry.IsPermanent(err))
	assert.Equal(t, Unauthenticated, session.State)
}

func TestAuthenticate_MissingLoginEntryIsPermanent(t *testing.T) {
	sel := DefaultSelectors()
	page := newPortal()
	page.present[sel.SignInLink] = false
	session := NewSession(page, testOptions())

	state, err := Authenticate(context.Background(), session, "u", "p")
	assert.Equal(t, AuthFailure, state)
	assert.ErrorIs(t, err, ErrLoginEntryMissing)
	assert.True(t, retry.IsPermanent(err))
	assert.Zero(t, page.countCalls("type #username"))
}

func TestAuthenticate_StuckControlsAreBounded(t *testing.T) {
	sel := DefaultSelectors()
	for _, stuck := range []string{sel.SignInLink, sel.Password, sel.LoginButton} {
		t.Run(stuck, func(t *testing.T) {
			page := newPortal()
			page.stuck[stuck] = true
			session := NewSession(page, testOptions())

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			start := time.Now()
			state, err := Authenticate(ctx, session, "u", "p")

			assert.Less(t, time.Since(start), time.Second)
			assert.Equal(t, AuthFailure, state)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.False(t, retry.IsPermanent(err))
			assert.NoError(t, ctx.Err())
		})
	}
}
