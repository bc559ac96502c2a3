package database

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// SystemSetting represents a configuration setting stored in the database
type SystemSetting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	ValueType   string    `json:"value_type"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	IsSensitive bool      `json:"is_sensitive"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SettingsMap is a map of setting keys to values
type SettingsMap map[string]interface{}

var ErrSettingNotFound = errors.New("setting not found")

// maskedValue is what sensitive settings render as in API responses.
// Submitting it back leaves the stored value untouched.
const maskedValue = "••••••••"

// encrypt encrypts a string value with AES-GCM
func encrypt(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an encrypted string value
func decrypt(ciphertext string, key []byte) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// GetSetting retrieves a single setting by key, decrypting it if needed
func (db *DB) GetSetting(ctx context.Context, key string, encryptionKey []byte) (*SystemSetting, error) {
	var s SystemSetting
	err := db.Pool.QueryRow(ctx, `
		SELECT key, value, value_type, category, description, is_sensitive, created_at, updated_at
		FROM system_settings
		WHERE key = $1
	`, key).Scan(&s.Key, &s.Value, &s.ValueType, &s.Category, &s.Description, &s.IsSensitive, &s.CreatedAt, &s.UpdatedAt)

	if err != nil {
		if err.Error() == "no rows in result set" {
			return nil, ErrSettingNotFound
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}

	if s.ValueType == "encrypted" && s.Value != "" && encryptionKey != nil {
		decrypted, err := decrypt(s.Value, encryptionKey)
		if err == nil {
			s.Value = decrypted
		}
		// If decryption fails, fall through with the stored value
	}

	return &s, nil
}

// GetSettingString retrieves a setting as a string
func (db *DB) GetSettingString(ctx context.Context, key string, defaultValue string, encryptionKey []byte) string {
	setting, err := db.GetSetting(ctx, key, encryptionKey)
	if err != nil {
		return defaultValue
	}
	if setting.Value == "" {
		return defaultValue
	}
	return setting.Value
}

// GetSettingInt retrieves a setting as an integer
func (db *DB) GetSettingInt(ctx context.Context, key string, defaultValue int, encryptionKey []byte) int {
	setting, err := db.GetSetting(ctx, key, encryptionKey)
	if err != nil {
		return defaultValue
	}
	val, err := strconv.Atoi(setting.Value)
	if err != nil {
		return defaultValue
	}
	return val
}

// GetSettingBool retrieves a setting as a boolean
func (db *DB) GetSettingBool(ctx context.Context, key string, defaultValue bool, encryptionKey []byte) bool {
	setting, err := db.GetSetting(ctx, key, encryptionKey)
	if err != nil {
		return defaultValue
	}
	val, err := strconv.ParseBool(setting.Value)
	if err != nil {
		return defaultValue
	}
	return val
}

// GetSettingFloat retrieves a setting as a float
func (db *DB) GetSettingFloat(ctx context.Context, key string, defaultValue float64, encryptionKey []byte) float64 {
	setting, err := db.GetSetting(ctx, key, encryptionKey)
	if err != nil {
		return defaultValue
	}
	val, err := strconv.ParseFloat(setting.Value, 64)
	if err != nil {
		return defaultValue
	}
	return val
}

// GetSettingsByCategoryAsMap retrieves all settings in a category as a map
// of key to typed value, masking sensitive values unless asked not to
func (db *DB) GetSettingsByCategoryAsMap(ctx context.Context, category string, encryptionKey []byte, includeSensitive bool) (SettingsMap, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT key, value, value_type, is_sensitive
		FROM system_settings
		WHERE category = $1
	`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings by category: %w", err)
	}
	defer rows.Close()

	result := make(SettingsMap)
	for rows.Next() {
		var key, value, valueType string
		var isSensitive bool
		if err := rows.Scan(&key, &value, &valueType, &isSensitive); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}

		if valueType == "encrypted" && value != "" && encryptionKey != nil {
			decrypted, err := decrypt(value, encryptionKey)
			if err == nil {
				value = decrypted
			}
		}

		if isSensitive && !includeSensitive && value != "" {
			result[key] = maskedValue
		} else {
			result[key] = convertSettingValue(value, valueType)
		}
	}

	return result, nil
}

// SetSetting updates an existing setting, encrypting the value when the
// setting is marked encrypted. Submitting the masked placeholder is a no-op.
func (db *DB) SetSetting(ctx context.Context, key, value string, encryptionKey []byte) error {
	var valueType string
	err := db.Pool.QueryRow(ctx, `SELECT value_type FROM system_settings WHERE key = $1`, key).Scan(&valueType)
	if err != nil {
		// Setting doesn't exist, insert as a plain string
		_, err = db.Pool.Exec(ctx, `
			INSERT INTO system_settings (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = NOW()
		`, key, value)
		return err
	}

	if value == maskedValue {
		return nil
	}

	finalValue := value
	if valueType == "encrypted" && value != "" && encryptionKey != nil {
		encrypted, err := encrypt(value, encryptionKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt value: %w", err)
		}
		finalValue = encrypted
	}

	_, err = db.Pool.Exec(ctx, `
		UPDATE system_settings SET value = $2, updated_at = NOW() WHERE key = $1
	`, key, finalValue)

	return err
}

// SetSettings updates multiple settings at once
func (db *DB) SetSettings(ctx context.Context, settings map[string]string, encryptionKey []byte) error {
	for key, value := range settings {
		if err := db.SetSetting(ctx, key, value, encryptionKey); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// convertSettingValue converts a stored value to its declared type
func convertSettingValue(value, valueType string) interface{} {
	switch valueType {
	case "int":
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
		return 0
	case "float":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
		return 0.0
	case "bool":
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
		return false
	case "json":
		var v interface{}
		if err := json.Unmarshal([]byte(value), &v); err == nil {
			return v
		}
		return nil
	default:
		return value
	}
}
