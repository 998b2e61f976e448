package credcore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	partialKeySuffix        = "pac"
	partialRecordVersionV1  = 1
	partialStoreMaxRetries  = 4
	partialChallengeMaxSize = 64
)

var (
	errPartialNotFound = errors.New("partial session not found")
	errPartialExpired  = errors.New("partial session expired")
	errPartialExceeded = errors.New("partial session attempts exceeded")
	errPartialBackend  = errors.New("partial session backend unavailable")
)

// partialSession is the ephemeral record between primary-credential
// success and MFA completion. It is never the system of record for
// "logged in"; it lives in Redis under its own short TTL.
type partialSession struct {
	UserID            string
	TenantID          string
	Methods           uint8
	WebAuthnChallenge []byte
	IssuedAt          int64
	ExpiresAt         int64
	Attempts          uint16
}

type partialSessionStore struct {
	redis  *redis.Client
	prefix string
}

func newPartialSessionStore(redisClient *redis.Client, prefix string) *partialSessionStore {
	return &partialSessionStore{redis: redisClient, prefix: prefix}
}

func (s *partialSessionStore) key(challengeID string) string {
	return s.prefix + ":" + partialKeySuffix + ":" + challengeID
}

func (s *partialSessionStore) Save(
	ctx context.Context,
	challengeID string,
	record *partialSession,
	ttl time.Duration,
) error {
	encoded, err := encodePartialSession(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errPartialBackend, err)
	}
	return nil
}

func (s *partialSessionStore) Get(ctx context.Context, challengeID string) (*partialSession, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errPartialNotFound
		}
		return nil, fmt.Errorf("%w: %v", errPartialBackend, err)
	}

	record, err := decodePartialSession(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, errPartialExpired
	}
	return record, nil
}

// Delete removes the challenge and reports whether it existed. A false
// return on the promotion path means another request consumed it first.
func (s *partialSessionStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errPartialBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the challenge attempt counter under WATCH.
// When the budget is exhausted the challenge is deleted and exceeded is
// returned true.
func (s *partialSessionStore) RecordFailure(
	ctx context.Context,
	challengeID string,
	maxAttempts int,
) (bool, error) {
	key := s.key(challengeID)

	for i := 0; i < partialStoreMaxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodePartialSession(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errPartialExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errPartialExpired
			}

			updated, err := encodePartialSession(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return false, errPartialNotFound
			case errors.Is(err, errPartialExpired):
				return false, err
			default:
				return false, fmt.Errorf("%w: %v", errPartialBackend, err)
			}
		}
		return exceeded, nil
	}

	return false, errPartialBackend
}

func encodePartialSession(record *partialSession) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(partialRecordVersionV1)
	buf.WriteByte(record.Methods)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 255 {
		return nil, errors.New("partial session user id too long")
	}
	buf.WriteByte(byte(len(record.UserID)))
	buf.WriteString(record.UserID)

	if len(record.TenantID) > 255 {
		return nil, errors.New("partial session tenant id too long")
	}
	buf.WriteByte(byte(len(record.TenantID)))
	buf.WriteString(record.TenantID)

	if len(record.WebAuthnChallenge) > partialChallengeMaxSize {
		return nil, errors.New("partial session webauthn challenge too long")
	}
	buf.WriteByte(byte(len(record.WebAuthnChallenge)))
	buf.Write(record.WebAuthnChallenge)

	return buf.Bytes(), nil
}

func decodePartialSession(data []byte) (*partialSession, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != partialRecordVersionV1 {
		return nil, errors.New("invalid partial session record version")
	}

	record := &partialSession{}

	methods, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Methods = methods

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	userID, err := readLenPrefixed(reader)
	if err != nil {
		return nil, err
	}
	record.UserID = string(userID)

	tenantID, err := readLenPrefixed(reader)
	if err != nil {
		return nil, err
	}
	record.TenantID = string(tenantID)

	challenge, err := readLenPrefixed(reader)
	if err != nil {
		return nil, err
	}
	if len(challenge) > 0 {
		record.WebAuthnChallenge = challenge
	}

	return record, nil
}

func readLenPrefixed(reader *bytes.Reader) ([]byte, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
