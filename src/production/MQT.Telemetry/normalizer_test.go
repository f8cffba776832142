package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizerCoerce(t *testing.T) {
	var n Normalizer
	f, err := n.Coerce(payload(t, `{
		"device_number": 3,
		"muon_count": "12345678901",
		"adc_v": 512.9,
		"temp_adc_v": " 301 ",
		"wait_cnt": true,
		"coincidence": "Yes"
	}`))
	require.NoError(t, err)
	require.Equal(t, Fields{
		DeviceNumber: 3,
		MuonCount:    12345678901,
		AdcV:         512,
		TempAdcV:     301,
		WaitCnt:      1,
		Coincidence:  true,
	}, f)
}

func TestNormalizerRejectsMalformed(t *testing.T) {
	var n Normalizer
	base := `"device_number":1,"muon_count":2,"adc_v":3,"temp_adc_v":4,"wait_cnt":5`

	cases := map[string]string{
		"missing field":       `{"device_number":1,"muon_count":2,"adc_v":3,"temp_adc_v":4,"coincidence":false}`,
		"null field":          `{` + base + `,"coincidence":null}`,
		"decimal string":      `{"device_number":"1.5","muon_count":2,"adc_v":3,"temp_adc_v":4,"wait_cnt":5,"coincidence":0}`,
		"object value":        `{"device_number":{},"muon_count":2,"adc_v":3,"temp_adc_v":4,"wait_cnt":5,"coincidence":0}`,
		"bad boolean":         `{` + base + `,"coincidence":"maybe"}`,
		"out of int32 range":  `{"device_number":1,"muon_count":2,"adc_v":3000000000,"temp_adc_v":4,"wait_cnt":5,"coincidence":0}`,
		"missing coincidence": `{` + base + `}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := n.Coerce(payload(t, body))
			require.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestNormalizerAssemble(t *testing.T) {
	var n Normalizer
	ts := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)

	s, err := n.Assemble("dev-1", Resolution{Ts: ts, DtMs: 999.7}, Fields{DeviceNumber: 2, MuonCount: 10})
	require.NoError(t, err)
	require.Equal(t, "dev-1", s.DeviceID)
	require.Equal(t, ts, s.Ts)
	require.Equal(t, int64(999), s.Dt)
	require.Equal(t, 2, s.DeviceNumber)

	_, err = n.Assemble("dev-1", Resolution{Ts: time.Unix(0, 0)}, Fields{})
	require.ErrorIs(t, err, ErrInvalidTimestamp)
}
