package ticket

import (
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/tktauth/internal/observability"
)

const testSecret = "s3cret"

// Reference tickets cross-checked against an independent
// implementation of the scheme. All expire at 0x3b9aca00
// (2001-09-09T01:46:40Z) unless the time field says otherwise.
const (
	// sha512, user alice, unbound, no tokens, no data.
	ticketAliceSHA512 = "2903b0235b262f91c538c41312f67ec222ec3dbf1b7fd30c4f4494bcfe580329ee34d28ad302a18a598ec6b96877669656c47f50e686a0a8a632bc37fb4b295b3b9aca00alice!!"

	// sha512, user alice, bound to 10.0.0.1, tokens admin,ops, data color=blue.
	ticketAliceBound = "79dd74d7ed4e813583f227ce5b4d5cfab8d759762c46910acd8c4c7674b1989a6a877fe9b63d064a85c813d6bdf528bb294fcd69dda00acf22ea5a3f1207ef823b9aca00alice!admin,ops!color%3Dblue"
)

func newTestMetrics() *Metrics {
	return NewMetrics("test")
}

func newTestFactory(t *testing.T, opts ...Option) Factory {
	t.Helper()

	opts = append([]Option{WithMetrics(newTestMetrics())}, opts...)
	f, err := NewFactory([]byte(testSecret), opts...)
	require.NoError(t, err)
	return f
}

func TestNewFactory(t *testing.T) {
	t.Parallel()

	t.Run("empty secret returns error", func(t *testing.T) {
		t.Parallel()

		f, err := NewFactory(nil)
		assert.ErrorIs(t, err, ErrEmptySecret)
		assert.Nil(t, f)
	})

	t.Run("unknown algorithm returns error", func(t *testing.T) {
		t.Parallel()

		f, err := NewFactory([]byte(testSecret), WithAlgorithm("whirlpool"))
		assert.ErrorIs(t, err, ErrUnknownAlgorithm)
		assert.Nil(t, f)
	})

	t.Run("unknown encoding returns error", func(t *testing.T) {
		t.Parallel()

		f, err := NewFactory([]byte(testSecret), WithPayloadEncoding("klingon"))
		assert.ErrorIs(t, err, ErrUnknownEncoding)
		assert.Nil(t, f)
	})

	t.Run("defaults to sha512", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t)
		assert.Equal(t, AlgSHA512, f.Algorithm())
		assert.Equal(t, 64, f.DigestSize())
	})

	t.Run("algorithm name is normalized", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t, WithAlgorithm(" SHA256 "))
		assert.Equal(t, AlgSHA256, f.Algorithm())
		assert.Equal(t, 32, f.DigestSize())
	})

	t.Run("algorithm alias resolves", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t, WithAlgorithm("blake2b"))
		assert.Equal(t, AlgBLAKE2b512, f.Algorithm())
		assert.Equal(t, 64, f.DigestSize())
	})

	t.Run("with options", func(t *testing.T) {
		t.Parallel()

		f, err := NewFactory([]byte(testSecret),
			WithAlgorithm(AlgSHA256),
			WithDefaultLifetime(time.Hour),
			WithLogger(observability.NopLogger()),
			WithMetrics(newTestMetrics()),
		)
		require.NoError(t, err)
		assert.NotNil(t, f)
	})

	t.Run("secret is copied", func(t *testing.T) {
		t.Parallel()

		secret := []byte(testSecret)
		f, err := NewFactory(secret, WithMetrics(newTestMetrics()))
		require.NoError(t, err)

		got, err := f.New("alice", WithValidUntil(1000000000))
		require.NoError(t, err)
		assert.Equal(t, ticketAliceSHA512, got)

		// Zeroing the caller's slice must not change future digests.
		for i := range secret {
			secret[i] = 0
		}
		again, err := f.New("alice", WithValidUntil(1000000000))
		require.NoError(t, err)
		assert.Equal(t, ticketAliceSHA512, again)
	})
}

func TestFactory_New_KnownTickets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		algorithm  string
		encoding   string
		userID     string
		tokens     []string
		userData   string
		validUntil uint32
		clientIP   string
		want       string
	}{
		{
			name:       "sha512 unbound",
			algorithm:  AlgSHA512,
			userID:     "alice",
			validUntil: 1000000000,
			want:       ticketAliceSHA512,
		},
		{
			name:       "sha512 bound with tokens and data",
			algorithm:  AlgSHA512,
			userID:     "alice",
			tokens:     []string{"admin", "ops"},
			userData:   "color=blue",
			validUntil: 1000000000,
			clientIP:   "10.0.0.1",
			want:       ticketAliceBound,
		},
		{
			name:       "md5 with quoted user id and data",
			algorithm:  AlgMD5,
			userID:     "bob smith/jr",
			userData:   "café",
			validUntil: 1000000000,
			want:       "2dde5b70f7f1cbee69a3d19f691c1a463b9aca00bob%20smith/jr!!caf%C3%A9",
		},
		{
			name:       "sha256 bound to ipv6 loopback",
			algorithm:  AlgSHA256,
			userID:     "carol",
			tokens:     []string{"dev"},
			validUntil: 1000000000,
			clientIP:   "::1",
			want:       "14bba24116f9e91e24946b15afd9bb95d886ce3866cb1ddde0af28490c705d863b9aca00carol!dev!",
		},
		{
			name:       "ipv4-mapped ipv6 keeps the 16-byte form",
			algorithm:  AlgSHA512,
			userID:     "alice",
			validUntil: 1000000000,
			clientIP:   "::ffff:10.0.0.1",
			want:       "fda0a92028148e00e7407d701c6f88601351d68d0be3f3a20647382110f891372be138c497642d93ed4100db489e5e3a10b607fbe1662fafe904d07fe7c583833b9aca00alice!!",
		},
		{
			name:       "explicit zero expiry",
			algorithm:  AlgSHA512,
			userID:     "alice",
			validUntil: 0,
			want:       "efa3b662a703f8596ce4d0fd340e638e4c659089942a47b4f450331b8d4ee0406e9ff699276a9d88dcced554fb6362df82012a5a34ca6c97fcd5352bf80f2ff300000000alice!!",
		},
		{
			name:       "sha3-256",
			algorithm:  AlgSHA3_256,
			userID:     "alice",
			validUntil: 1000000000,
			want:       "cfffe36e90d1c4337198083064db40df5ab52f1565504a878b801cb7b42b4ad13b9aca00alice!!",
		},
		{
			name:       "blake2b",
			algorithm:  "blake2b",
			userID:     "alice",
			validUntil: 1000000000,
			want:       "9e307893b200c36f13efe6c511b43caa7ab0f6d9577cfac8d42eebc4085039d9fe7d975f9e2a17e76e7b43cc28e7c823fbf9edbed689dfa2e5c641b8f3aafdf73b9aca00alice!!",
		},
		{
			name:       "latin-1 payload encoding changes the digest",
			algorithm:  AlgMD5,
			encoding:   "iso-8859-1",
			userID:     "u",
			tokens:     []string{"café"},
			validUntil: 1000000000,
			want:       "d29f52061f6c2d4e8894042f103368be3b9aca00u!café!",
		},
		{
			name:       "utf-8 passthrough of the same fields",
			algorithm:  AlgMD5,
			userID:     "u",
			tokens:     []string{"café"},
			validUntil: 1000000000,
			want:       "7d652ac824331844ef4fc7b2e1386d9f3b9aca00u!café!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := []Option{
				WithAlgorithm(tt.algorithm),
				WithMetrics(newTestMetrics()),
			}
			if tt.encoding != "" {
				opts = append(opts, WithPayloadEncoding(tt.encoding))
			}
			f, err := NewFactory([]byte(testSecret), opts...)
			require.NoError(t, err)

			ticketOpts := []TicketOption{WithValidUntil(tt.validUntil)}
			if len(tt.tokens) > 0 {
				ticketOpts = append(ticketOpts, WithTokens(tt.tokens...))
			}
			if tt.userData != "" {
				ticketOpts = append(ticketOpts, WithUserData(tt.userData))
			}
			if tt.clientIP != "" {
				ticketOpts = append(ticketOpts, WithClientIP(netip.MustParseAddr(tt.clientIP)))
			}

			got, err := f.New(tt.userID, ticketOpts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFactory_New_EmptyUserID(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	got, err := f.New("")
	assert.ErrorIs(t, err, ErrEmptyUserID)
	assert.Empty(t, got)
}

func TestFactory_New_DefaultLifetime(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t, WithDefaultLifetime(10*time.Minute))
	assert.Equal(t, 10*time.Minute, f.DefaultLifetime())

	raw, err := f.New("alice")
	require.NoError(t, err)

	parsed, err := f.Parse(raw)
	require.NoError(t, err)

	want := time.Now().Add(10 * time.Minute).Unix()
	assert.InDelta(t, want, int64(parsed.ValidUntil), 5)
}

func TestFactory_New_UnencodableToken(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t, WithPayloadEncoding("iso-8859-1"))

	got, err := f.New("alice", WithTokens("日本"), WithValidUntil(1000000000))
	assert.ErrorIs(t, err, ErrUnencodablePayload)
	assert.Empty(t, got)
}

func TestFactory_Parse(t *testing.T) {
	t.Parallel()

	t.Run("splits fields", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t)
		parsed, err := f.Parse(ticketAliceBound)
		require.NoError(t, err)

		assert.Equal(t, ticketAliceBound[:128], parsed.Digest)
		assert.Equal(t, "alice", parsed.UserID)
		assert.Equal(t, []string{"admin", "ops"}, parsed.Tokens)
		assert.Equal(t, "color=blue", parsed.UserData)
		assert.Equal(t, uint32(1000000000), parsed.ValidUntil)
		assert.Equal(t, time.Date(2001, 9, 9, 1, 46, 40, 0, time.UTC), parsed.ExpiresAt())
	})

	t.Run("unquotes payload fields", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t, WithAlgorithm(AlgMD5))
		parsed, err := f.Parse("2dde5b70f7f1cbee69a3d19f691c1a463b9aca00bob%20smith/jr!!caf%C3%A9")
		require.NoError(t, err)

		assert.Equal(t, "bob smith/jr", parsed.UserID)
		assert.Nil(t, parsed.Tokens)
		assert.Equal(t, "café", parsed.UserData)
	})

	t.Run("empty token field parses as nil", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t)
		parsed, err := f.Parse(ticketAliceSHA512)
		require.NoError(t, err)
		assert.Nil(t, parsed.Tokens)
	})

	t.Run("keeps empty token list entries", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t, WithAlgorithm(AlgSHA256))
		parsed, err := f.Parse("4998b0922e81488908e4721ff77a0d3446eb55d6bd1ff8d4dff19058898e516b3b9aca00eve!,b!")
		require.NoError(t, err)
		assert.Equal(t, []string{"", "b"}, parsed.Tokens)
	})

	t.Run("does not verify the digest", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t)
		tampered := "f" + ticketAliceSHA512[1:]
		parsed, err := f.Parse(tampered)
		require.NoError(t, err)
		assert.Equal(t, "alice", parsed.UserID)
	})

	t.Run("rejects short input", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t)
		_, err := f.Parse("deadbeef")
		require.Error(t, err)
		assert.True(t, IsParseError(err))
		assert.ErrorIs(t, err, ErrMalformedTicket)

		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, ReasonInvalidLength, parseErr.Reason)
	})

	t.Run("rejects non-hex time field", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t)
		raw := ticketAliceSHA512[:128] + "zzzzzzzz" + "alice!!"
		_, err := f.Parse(raw)
		require.Error(t, err)

		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, ReasonInvalidTime, parseErr.Reason)
	})

	t.Run("rejects missing separators", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t)
		raw := ticketAliceSHA512[:136] + "alice"
		_, err := f.Parse(raw)
		require.Error(t, err)

		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, ReasonMissingParts, parseErr.Reason)
	})

	t.Run("rejects extra separators", func(t *testing.T) {
		t.Parallel()

		f := newTestFactory(t)
		raw := ticketAliceSHA512 + "!extra"
		_, err := f.Parse(raw)
		require.Error(t, err)

		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, ReasonMissingParts, parseErr.Reason)
	})
}

func TestFactory_Validate_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, algorithm := range Algorithms() {
		t.Run(algorithm, func(t *testing.T) {
			t.Parallel()

			f := newTestFactory(t, WithAlgorithm(algorithm))
			ip := netip.MustParseAddr("192.0.2.7")

			raw, err := f.New("alice",
				WithTokens("admin", "ops"),
				WithUserData("color=blue"),
				WithValidUntil(1000000000),
				WithClientIP(ip),
			)
			require.NoError(t, err)

			got, err := f.ValidateAt(raw, ip, time.Unix(999999999, 0))
			require.NoError(t, err)
			assert.Equal(t, "alice", got.UserID)
			assert.Equal(t, []string{"admin", "ops"}, got.Tokens)
			assert.Equal(t, "color=blue", got.UserData)
			assert.Equal(t, uint32(1000000000), got.ValidUntil)
		})
	}
}

func TestFactory_ValidateAt_Expiry(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)

	t.Run("valid before expiry", func(t *testing.T) {
		t.Parallel()

		got, err := f.ValidateAt(ticketAliceSHA512, netip.Addr{}, time.Unix(999999999, 0))
		require.NoError(t, err)
		assert.Equal(t, "alice", got.UserID)
	})

	t.Run("expired exactly at expiry", func(t *testing.T) {
		t.Parallel()

		_, err := f.ValidateAt(ticketAliceSHA512, netip.Addr{}, time.Unix(1000000000, 0))
		require.Error(t, err)
		assert.True(t, IsExpiredError(err))
	})

	t.Run("expired after expiry", func(t *testing.T) {
		t.Parallel()

		_, err := f.ValidateAt(ticketAliceSHA512, netip.Addr{}, time.Unix(1000000001, 0))
		require.Error(t, err)

		var expiredErr *ExpiredError
		require.ErrorAs(t, err, &expiredErr)
		assert.Equal(t, uint32(1000000000), expiredErr.ValidUntil)
	})

	t.Run("zero expiry is always expired", func(t *testing.T) {
		t.Parallel()

		raw, err := f.New("alice", WithValidUntil(0))
		require.NoError(t, err)
		assert.Equal(t, "00000000", raw[128:136])

		_, err = f.ValidateAt(raw, netip.Addr{}, time.Unix(1, 0))
		assert.True(t, IsExpiredError(err))
	})
}

func TestFactory_ValidateAt_TamperedTicket(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	now := time.Unix(999999999, 0)

	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "first digest char flipped",
			raw:  flipHexChar(ticketAliceSHA512, 0),
		},
		{
			name: "middle digest char flipped",
			raw:  flipHexChar(ticketAliceSHA512, 64),
		},
		{
			name: "last digest char flipped",
			raw:  flipHexChar(ticketAliceSHA512, 127),
		},
		{
			name: "time field changed",
			raw:  ticketAliceSHA512[:128] + "3b9aca01" + "alice!!",
		},
		{
			name: "user id changed",
			raw:  ticketAliceSHA512[:136] + "mallory!!",
		},
		{
			name: "token injected",
			raw:  ticketAliceSHA512[:136] + "alice!admin!",
		},
		{
			name: "user data changed",
			raw:  ticketAliceSHA512 + "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := f.ValidateAt(tt.raw, netip.Addr{}, now)
			require.Error(t, err)
			assert.True(t, IsDigestError(err))
			assert.ErrorIs(t, err, ErrDigestMismatch)
		})
	}
}

// flipHexChar replaces the hex digit at index i with a different one.
func flipHexChar(s string, i int) string {
	c := byte('0')
	if s[i] == '0' {
		c = '1'
	}
	return s[:i] + string(c) + s[i+1:]
}

func TestFactory_ValidateAt_IPBinding(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	now := time.Unix(999999999, 0)

	issue := func(t *testing.T, ip netip.Addr) string {
		t.Helper()
		raw, err := f.New("alice", WithValidUntil(1000000000), WithClientIP(ip))
		require.NoError(t, err)
		return raw
	}

	t.Run("bound ticket validates from the same address", func(t *testing.T) {
		t.Parallel()

		raw := issue(t, netip.MustParseAddr("10.0.0.1"))
		_, err := f.ValidateAt(raw, netip.MustParseAddr("10.0.0.1"), now)
		assert.NoError(t, err)
	})

	t.Run("bound ticket rejects another address", func(t *testing.T) {
		t.Parallel()

		raw := issue(t, netip.MustParseAddr("10.0.0.1"))
		_, err := f.ValidateAt(raw, netip.MustParseAddr("10.0.0.2"), now)
		assert.True(t, IsDigestError(err))
	})

	t.Run("bound ticket rejects the zero address", func(t *testing.T) {
		t.Parallel()

		raw := issue(t, netip.MustParseAddr("10.0.0.1"))
		_, err := f.ValidateAt(raw, netip.Addr{}, now)
		assert.True(t, IsDigestError(err))
	})

	t.Run("unbound ticket validates with the zero address", func(t *testing.T) {
		t.Parallel()

		_, err := f.ValidateAt(ticketAliceSHA512, netip.Addr{}, now)
		assert.NoError(t, err)
	})

	t.Run("unbound ticket rejects a bound address", func(t *testing.T) {
		t.Parallel()

		_, err := f.ValidateAt(ticketAliceSHA512, netip.MustParseAddr("10.0.0.1"), now)
		assert.True(t, IsDigestError(err))
	})

	t.Run("unbound ticket equals an explicit 0.0.0.0 binding", func(t *testing.T) {
		t.Parallel()

		raw := issue(t, netip.MustParseAddr("0.0.0.0"))
		assert.Equal(t, ticketAliceSHA512, raw)
	})

	t.Run("ipv6 binding", func(t *testing.T) {
		t.Parallel()

		raw := issue(t, netip.MustParseAddr("2001:db8::1"))
		_, err := f.ValidateAt(raw, netip.MustParseAddr("2001:db8::1"), now)
		assert.NoError(t, err)

		_, err = f.ValidateAt(raw, netip.MustParseAddr("2001:db8::2"), now)
		assert.True(t, IsDigestError(err))
	})

	t.Run("ipv4-mapped ipv6 does not collide with plain ipv4", func(t *testing.T) {
		t.Parallel()

		mapped := issue(t, netip.MustParseAddr("::ffff:10.0.0.1"))
		plain := issue(t, netip.MustParseAddr("10.0.0.1"))
		assert.NotEqual(t, mapped, plain)

		_, err := f.ValidateAt(mapped, netip.MustParseAddr("::ffff:10.0.0.1"), now)
		assert.NoError(t, err)

		_, err = f.ValidateAt(mapped, netip.MustParseAddr("10.0.0.1"), now)
		assert.True(t, IsDigestError(err))
	})
}

func TestFactory_ValidateAt_WrongSecret(t *testing.T) {
	t.Parallel()

	other, err := NewFactory([]byte("another-secret"), WithMetrics(newTestMetrics()))
	require.NoError(t, err)

	_, err = other.ValidateAt(ticketAliceSHA512, netip.Addr{}, time.Unix(999999999, 0))
	require.Error(t, err)
	assert.True(t, IsDigestError(err))
}

func TestFactory_ValidateAt_UTF16Encoding(t *testing.T) {
	t.Parallel()

	utf16 := newTestFactory(t, WithPayloadEncoding("utf-16"))
	raw := newTestFactory(t)

	wide, err := utf16.New("alice", WithValidUntil(1000000000))
	require.NoError(t, err)

	// Same fields hash to different digests under a wide encoding.
	assert.NotEqual(t, ticketAliceSHA512, wide)

	_, err = utf16.ValidateAt(wide, netip.Addr{}, time.Unix(999999999, 0))
	assert.NoError(t, err)

	_, err = raw.ValidateAt(wide, netip.Addr{}, time.Unix(999999999, 0))
	assert.True(t, IsDigestError(err))
}

func TestFactory_Validate_UsesWallClock(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)

	raw, err := f.New("alice", WithValidUntil(uint32(time.Now().Add(time.Hour).Unix())))
	require.NoError(t, err)

	got, err := f.Validate(raw, netip.Addr{})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)

	stale, err := f.New("alice", WithValidUntil(uint32(time.Now().Add(-time.Hour).Unix())))
	require.NoError(t, err)

	_, err = f.Validate(stale, netip.Addr{})
	assert.True(t, IsExpiredError(err))
}

func TestFactory_Concurrency(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	now := time.Unix(999999999, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				raw, err := f.New("alice", WithValidUntil(1000000000))
				assert.NoError(t, err)
				assert.Equal(t, ticketAliceSHA512, raw)

				_, err = f.ValidateAt(raw, netip.Addr{}, now)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

func TestTicket_Tokens(t *testing.T) {
	t.Parallel()

	tk := &Ticket{Tokens: []string{"admin", "ops"}}

	assert.True(t, tk.HasToken("admin"))
	assert.True(t, tk.HasToken("ops"))
	assert.False(t, tk.HasToken("dev"))
	assert.True(t, tk.HasAllTokens("admin", "ops"))
	assert.True(t, tk.HasAllTokens())
	assert.False(t, tk.HasAllTokens("admin", "dev"))

	empty := &Ticket{}
	assert.False(t, empty.HasToken("admin"))
	assert.True(t, empty.HasAllTokens())
}

func TestFactory_TokensSurviveRoundTrip(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t)
	tokens := []string{"", "b"}

	raw, err := f.New("eve", WithTokens(tokens...), WithValidUntil(1000000000))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(raw, "eve!,b!"))

	got, err := f.ValidateAt(raw, netip.Addr{}, time.Unix(999999999, 0))
	require.NoError(t, err)
	assert.Equal(t, tokens, got.Tokens)
}
