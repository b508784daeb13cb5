package signing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignerSignAndVerify(t *testing.T) {
	signer := NewSigner("secret", time.Hour)
	token, expiresAt, err := signer.Sign("job-1", "gradebooks/file.csv")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	claims, err := signer.Verify(token, false)
	require.NoError(t, err)
	require.Equal(t, "job-1", claims.Subject)
	require.Equal(t, "gradebooks/file.csv", claims.Payload)
	require.WithinDuration(t, expiresAt, claims.ExpiresAt, time.Second)
}

func TestSignerExpired(t *testing.T) {
	signer := NewSigner("secret", time.Hour)
	base := time.Now()
	signer.now = func() time.Time { return base }
	token, _, err := signer.Sign("job-1", "gradebooks/file.csv")
	require.NoError(t, err)

	signer.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = signer.Verify(token, false)
	require.ErrorIs(t, err, ErrExpired)

	claims, err := signer.Verify(token, true)
	require.NoError(t, err)
	require.Equal(t, "job-1", claims.Subject)
}

func TestSignerRejectsTampering(t *testing.T) {
	signer := NewSigner("secret", time.Hour)
	token, _, err := signer.Sign("user-1", "nonce")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "user-2"
	_, err = signer.Verify(strings.Join(parts, "."), false)
	require.ErrorIs(t, err, ErrSignature)

	_, err = NewSigner("other", time.Hour).Verify(token, false)
	require.ErrorIs(t, err, ErrSignature)

	_, err = signer.Verify("garbage", false)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestSignerRequiresSecret(t *testing.T) {
	_, _, err := NewSigner("", time.Hour).Sign("a", "b")
	require.Error(t, err)
}
