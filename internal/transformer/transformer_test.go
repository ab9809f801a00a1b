package transformer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesense-earth/wesense-respiro-sub002/internal/transformer"
)

func TestNormalize_StructuredTopic(t *testing.T) {
	tf := transformer.NewTransformer(zap.NewNop())
	receivedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	payload := []byte(`{
		"value": 23.45,
		"timestamp": "2026-08-01T11:59:30Z",
		"latitude": -36.848,
		"longitude": 174.763,
		"location_source": "gps",
		"unit": "°C"
	}`)

	reading, err := tf.Normalize("wesense/v1/NZ/auckland/dev-001/temperature", payload, receivedAt)
	require.NoError(t, err)

	assert.Equal(t, "dev-001", reading.DeviceID)
	assert.Equal(t, "temperature", reading.ReadingType)
	assert.Equal(t, 23.45, reading.Value)
	assert.Equal(t, "°C", reading.Unit)
	assert.Equal(t, time.Date(2026, 8, 1, 11, 59, 30, 0, time.UTC), reading.Timestamp)
	require.NotNil(t, reading.Latitude)
	require.NotNil(t, reading.Longitude)
	assert.Equal(t, -36.848, *reading.Latitude)
	assert.Equal(t, 174.763, *reading.Longitude)
	assert.Equal(t, "gps", reading.LocationSource)
}

func TestNormalize_LegacyTopic(t *testing.T) {
	tf := transformer.NewTransformer(zap.NewNop())
	receivedAt := time.Now()

	// 旧版解码器发的是 unix 秒时间戳
	payload := []byte(`{"value": 415.0, "timestamp": 1756400000, "unit": "ppm"}`)

	reading, err := tf.Normalize("skytrace/ANZ/PORTABLE/AKL_e5f1a2b3/co2", payload, receivedAt)
	require.NoError(t, err)

	assert.Equal(t, "e5f1a2b3", reading.DeviceID)
	assert.Equal(t, "co2", reading.ReadingType)
	assert.Equal(t, 415.0, reading.Value)
	assert.Equal(t, time.Unix(1756400000, 0).UTC(), reading.Timestamp)
	assert.Nil(t, reading.Latitude)
	assert.Nil(t, reading.Longitude)
}

func TestNormalize_LegacyTopicWithoutLocationPrefix(t *testing.T) {
	tf := transformer.NewTransformer(zap.NewNop())

	// 部分旧固件的设备段不带位置前缀
	reading, err := tf.Normalize("skytrace/ANZ/FIXED/dev42/pm2_5", []byte(`{"value": 8.1}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "dev42", reading.DeviceID)
	assert.Equal(t, "pm2_5", reading.ReadingType)
}

func TestNormalize_PayloadOverridesTopicDeviceID(t *testing.T) {
	tf := transformer.NewTransformer(zap.NewNop())

	payload := []byte(`{"value": 1.0, "device_id": "override-99"}`)
	reading, err := tf.Normalize("wesense/v1/NZ/auckland/dev-001/humidity", payload, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "override-99", reading.DeviceID)
}

func TestNormalize_MissingTimestampDefaultsToReceiptTime(t *testing.T) {
	tf := transformer.NewTransformer(zap.NewNop())
	receivedAt := time.Date(2026, 8, 29, 9, 30, 0, 0, time.UTC)

	reading, err := tf.Normalize("wesense/v1/NZ/auckland/dev-001/temperature", []byte(`{"value": 20}`), receivedAt)
	require.NoError(t, err)
	assert.Equal(t, receivedAt, reading.Timestamp)
}

func TestNormalize_HalfCoordinatesTreatedAsNoLocation(t *testing.T) {
	tf := transformer.NewTransformer(zap.NewNop())

	reading, err := tf.Normalize("wesense/v1/NZ/auckland/dev-001/temperature",
		[]byte(`{"value": 20, "latitude": -36.8}`), time.Now())
	require.NoError(t, err)
	assert.False(t, reading.HasLocation())
}

func TestNormalize_Malformed(t *testing.T) {
	tf := transformer.NewTransformer(zap.NewNop())
	now := time.Now()

	cases := []struct {
		name    string
		topic   string
		payload string
		wantErr error
	}{
		{"broken json", "wesense/v1/NZ/auckland/dev-001/temperature", `{"value": `, transformer.ErrMalformedPayload},
		{"missing value", "wesense/v1/NZ/auckland/dev-001/temperature", `{"unit": "ppm"}`, transformer.ErrMissingValue},
		{"non-numeric value", "wesense/v1/NZ/auckland/dev-001/temperature", `{"value": "hot"}`, transformer.ErrMalformedPayload},
		{"short structured topic", "wesense/v1/NZ/dev-001/temperature", `{"value": 1}`, transformer.ErrUnknownTopic},
		{"short legacy topic", "skytrace/env/temp", `{"value": 1}`, transformer.ErrUnknownTopic},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tf.Normalize(tc.topic, []byte(tc.payload), now)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestDeviceKeyFromTopic(t *testing.T) {
	assert.Equal(t, "dev-001", transformer.DeviceKeyFromTopic("wesense/v1/NZ/auckland/dev-001/temperature"))
	assert.Equal(t, "e5f1a2b3", transformer.DeviceKeyFromTopic("skytrace/ANZ/PORTABLE/AKL_e5f1a2b3/co2"))
	// 无法识别的主题返回原串，同主题仍落同一分片
	assert.Equal(t, "weird/topic", transformer.DeviceKeyFromTopic("weird/topic"))
}
