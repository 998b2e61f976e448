package credcore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	emailCodeKeySuffix     = "aec"
	emailCodeRecordVersion = 1
	emailCodeMaxRetries    = 4
)

var (
	errEmailCodeNotFound = errors.New("email code not found")
	errEmailCodeMismatch = errors.New("email code mismatch")
	errEmailCodeExceeded = errors.New("email code attempts exceeded")
	errEmailCodeBackend  = errors.New("email code backend unavailable")
)

// emailCodeRecord stores only the SHA-256 digest of an issued one-time
// code, keyed by the partial session challenge id.
type emailCodeRecord struct {
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
}

type emailCodeStore struct {
	redis  *redis.Client
	prefix string
}

func newEmailCodeStore(redisClient *redis.Client, prefix string) *emailCodeStore {
	return &emailCodeStore{redis: redisClient, prefix: prefix}
}

func (s *emailCodeStore) key(challengeID string) string {
	return s.prefix + ":" + emailCodeKeySuffix + ":" + challengeID
}

func (s *emailCodeStore) Save(
	ctx context.Context,
	challengeID string,
	record *emailCodeRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeEmailCodeRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errEmailCodeBackend, err)
	}
	return nil
}

// Consume compares the provided hash under WATCH and deletes the record on
// a match, so two requests racing on the same code yield exactly one
// success. A mismatch increments the attempt counter; exhausting the
// budget deletes the record.
func (s *emailCodeStore) Consume(
	ctx context.Context,
	challengeID string,
	providedHash [32]byte,
	maxAttempts int,
) error {
	key := s.key(challengeID)

	for i := 0; i < emailCodeMaxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeEmailCodeRecord(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errEmailCodeNotFound
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errEmailCodeExceeded
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
					return errEmailCodeNotFound
				}

				updated, err := encodeEmailCodeRecord(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return errEmailCodeMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
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
				return errEmailCodeNotFound
			case errors.Is(err, errEmailCodeNotFound),
				errors.Is(err, errEmailCodeMismatch),
				errors.Is(err, errEmailCodeExceeded):
				return err
			default:
				return fmt.Errorf("%w: %v", errEmailCodeBackend, err)
			}
		}
		return nil
	}

	return errEmailCodeBackend
}

func encodeEmailCodeRecord(record *emailCodeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(emailCodeRecordVersion)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeEmailCodeRecord(data []byte) (*emailCodeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != emailCodeRecordVersion {
		return nil, errors.New("invalid email code record version")
	}

	record := &emailCodeRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
