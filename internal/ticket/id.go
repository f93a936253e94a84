package ticket

import (
	"fmt"

	"github.com/google/uuid"
)

// IDGenerator はチケットIDを生成する関数。
type IDGenerator func() (string, error)

// maxIDAttempts はID衝突時に再生成する上限回数。
const maxIDAttempts = 16

// NewUUIDv7 は時刻順に並ぶUUIDv7形式のIDを生成する。
// 同一ミリ秒内でも乱数部により別の値となる。
func NewUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuidv7: %w", err)
	}
	return id.String(), nil
}

// uniqueID は既存IDと重複しないIDを生成する。
func uniqueID(gen IDGenerator, taken map[string]struct{}) (string, error) {
	for range maxIDAttempts {
		id, err := gen()
		if err != nil {
			return "", err
		}
		if id == "" {
			continue
		}
		if _, dup := taken[id]; !dup {
			return id, nil
		}
	}
	return "", fmt.Errorf("no unique ticket id after %d attempts", maxIDAttempts)
}
