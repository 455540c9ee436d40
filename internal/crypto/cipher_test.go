package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) Key {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return Key(key)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := testKey(t)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "short text", plaintext: []byte("Hello, World!")},
		{name: "json payload", plaintext: []byte(`{"ops":[{"collection":"reports","entity_id":"r1"}]}`)},
		{name: "binary data", plaintext: []byte{0x00, 0xff, 0x10, 0x80, 0x00}},
		// Пустой update тоже должен ходить по кругу без ошибок
		{name: "empty payload", plaintext: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encrypt(key, tt.plaintext)
			require.NoError(t, err)

			// nonce + ciphertext + auth_tag
			assert.Equal(t, NonceSize+len(tt.plaintext)+TagSize, len(frame))

			decrypted, err := Decrypt(key, frame)
			require.NoError(t, err)

			if len(tt.plaintext) == 0 {
				assert.Empty(t, decrypted)
			} else {
				assert.Equal(t, tt.plaintext, decrypted)
			}
		})
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("same plaintext")

	// Два шифрования одного и того же дают разные кадры:
	// nonce генерируется заново на каждый вызов
	first, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	second, err := Encrypt(key, plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotEqual(t, first[:NonceSize], second[:NonceSize])
}

func TestEncrypt_InvalidKeyLength(t *testing.T) {
	_, err := Encrypt(Key(make([]byte, 16)), []byte("test"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidKeyFormat)
}

func TestDecrypt_Tampered(t *testing.T) {
	key := testKey(t)

	frame, err := Encrypt(key, []byte("sensitive update"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{
			name: "flipped ciphertext byte",
			mutate: func(f []byte) []byte {
				f[NonceSize] ^= 0x01
				return f
			},
		},
		{
			name: "flipped auth tag byte",
			mutate: func(f []byte) []byte {
				f[len(f)-1] ^= 0x01
				return f
			},
		},
		{
			name: "flipped nonce byte",
			mutate: func(f []byte) []byte {
				f[0] ^= 0x01
				return f
			},
		},
		{
			name:   "truncated frame",
			mutate: func(f []byte) []byte { return f[:NonceSize+TagSize-1] },
		},
		{
			name:   "empty frame",
			mutate: func(f []byte) []byte { return nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := tt.mutate(append([]byte(nil), frame...))

			plaintext, err := Decrypt(key, tampered)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
			// Частично расшифрованные данные наружу не выходят
			assert.Nil(t, plaintext)
		})
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	frame, err := Encrypt(testKey(t), []byte("secret"))
	require.NoError(t, err)

	_, err = Decrypt(testKey(t), frame)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestGenerateKey(t *testing.T) {
	first, err := GenerateKey()
	require.NoError(t, err)
	second, err := GenerateKey()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	key, err := ImportKey(first)
	require.NoError(t, err)
	assert.Len(t, []byte(key), KeySize)
	assert.Equal(t, first, key.String())
}

func TestImportKey(t *testing.T) {
	valid, err := GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid key", input: valid, wantErr: false},
		{name: "empty string", input: "", wantErr: true},
		{name: "not base64", input: "!!!not-base64!!!", wantErr: true},
		{name: "too short", input: "YWJjZA", wantErr: true},
		{name: "standard base64 with padding", input: valid + "==", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ImportKey(tt.input)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidKeyFormat)
				assert.False(t, IsValidKeyString(tt.input))
			} else {
				require.NoError(t, err)
				assert.Len(t, []byte(key), KeySize)
				assert.True(t, IsValidKeyString(tt.input))
			}
		})
	}
}
