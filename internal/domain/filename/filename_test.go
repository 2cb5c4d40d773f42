package filename

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_String(t *testing.T) {
	captured := time.Date(2024, 3, 5, 14, 3, 10, 500, time.UTC)

	n, err := New("3EB0C4A1-F2D9.8877665544332211", captured, "JPG")
	require.NoError(t, err)

	assert.Equal(t, "3EB0C4A1F2D98877", n.IDPrefix)
	assert.Equal(t, "msg_3EB0C4A1F2D98877_20240305140310.jpg", n.String())
	assert.Equal(t, "msg_3EB0C4A1F2D98877_20240305140310_2.jpg", n.WithDisambiguator(2).String())
}

func TestNew_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	n, err := New("ABC", time.Date(2024, 3, 5, 11, 3, 10, 0, loc), ".pdf")
	require.NoError(t, err)
	assert.Equal(t, "msg_ABC_20240305140310.pdf", n.String())
}

func TestNew_RejectsEmptyID(t *testing.T) {
	_, err := New("--..", time.Now(), ".jpg")
	assert.True(t, errors.Is(err, ErrInvalidName))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Name
	}{
		{
			name:  "without disambiguator",
			input: "msg_3EB0C4A1_20240305140310.jpg",
			want: Name{
				IDPrefix:   "3EB0C4A1",
				CapturedAt: time.Date(2024, 3, 5, 14, 3, 10, 0, time.UTC),
				Ext:        ".jpg",
			},
		},
		{
			name:  "with disambiguator",
			input: "msg_ABC_20240305140310_12.ogg",
			want: Name{
				IDPrefix:      "ABC",
				CapturedAt:    time.Date(2024, 3, 5, 14, 3, 10, 0, time.UTC),
				Disambiguator: 12,
				Ext:           ".ogg",
			},
		},
		{
			name:  "without extension",
			input: "msg_ABC_20240305140310",
			want: Name{
				IDPrefix:   "ABC",
				CapturedAt: time.Date(2024, 3, 5, 14, 3, 10, 0, time.UTC),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want.IDPrefix, got.IDPrefix)
			assert.True(t, tt.want.CapturedAt.Equal(got.CapturedAt))
			assert.Equal(t, tt.want.Disambiguator, got.Disambiguator)
			assert.Equal(t, tt.want.Ext, got.Ext)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"photo.jpg",
		"msg__20240305140310.jpg",
		"msg_ABC_2024030514031.jpg",
		"msg_ABC_20241305140310.jpg",
		"msg_ABC_20240305140310_0.jpg",
		"msg_ABC_20240305140310_x.jpg",
		"msg_ABCDEFGHIJKLMNOPQ_20240305140310.jpg",
		".tmp-msg_ABC_20240305140310.jpg",
	}

	for _, in := range invalid {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidName, "input %q", in)
	}
}

func TestNormalizeExt(t *testing.T) {
	assert.Equal(t, ".jpg", NormalizeExt("jpg"))
	assert.Equal(t, ".jpg", NormalizeExt(".JPG"))
	assert.Equal(t, "", NormalizeExt(""))
	assert.Equal(t, "", NormalizeExt("."))
	assert.Equal(t, ".tar", NormalizeExt(".t/a.r"))
}
