package index

import (
	"errors"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeShardTupleFormat(t *testing.T) {
	data := []byte(`{"version":1,"bucket":"74","entries":[
		["tim3_irqhandler","TIM3_IRQHandler",[
			["stm32f4xx_it.c","../stm32f4xx__it_8h.html#ac8e51d2183b5230cbd5481f8867adce9"],
			["stm32f4xx_it.c","../stm32f4xx__it_8c.html#ac8e51d2183b5230cbd5481f8867adce9"]]],
		["tt_imagetoangles_py_tt","Tt ImageToAngles py tt",[
			["3.1.5 Workspace Mapping & Offset Angle Image To Angles Python (ImageToAngles.py)","../index.html#autotoc_md17"],
			["3.2 Python Conversion (ImageToAngles.py)","../index.html#autotoc_md19"]]]
	]}`)

	s, err := DecodeShard("74", data)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	tim := s.Entries[0]
	assert.Equal(t, "TIM3_IRQHandler", tim.DisplayLabel)
	require.Len(t, tim.Occurrences, 2)
	assert.Equal(t, "stm32f4xx_it.c", tim.Occurrences[0].Title)
	assert.Equal(t, "../stm32f4xx__it_8c.html#ac8e51d2183b5230cbd5481f8867adce9", tim.Occurrences[1].Anchor)
}

func TestEncodeShardIsDecodable(t *testing.T) {
	s := forwardShard()
	data, err := EncodeShard(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `["fsr","fsr",[["","../index.html#autotoc_md39"]]]`)

	back, err := DecodeShard("66", data)
	require.NoError(t, err)
	assert.Equal(t, s.Entries, back.Entries)
}

func TestDecodeShardRejects(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		malformed bool
	}{
		{"not json", `{"version":1,`, false},
		{"wrong tuple arity", `{"version":1,"bucket":"66","entries":[["fsr","FSR"]]}`, false},
		{"wrong occurrence arity", `{"version":1,"bucket":"66","entries":[["fsr","FSR",[["#a"]]]]}`, false},
		{"future version", `{"version":2,"bucket":"66","entries":[]}`, true},
		{"other bucket", `{"version":1,"bucket":"67","entries":[]}`, true},
		{"unsorted", `{"version":1,"bucket":"66","entries":[["fsr","FSR",[["","#b"]]],["forward","Forward",[["","#a"]]]]}`, true},
		{"duplicate", `{"version":1,"bucket":"66","entries":[["fsr","FSR",[["","#b"]]],["fsr","FSR",[["","#a"]]]]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeShard("66", []byte(tt.data))
			require.Error(t, err)
			assert.Equal(t, tt.malformed, errors.Is(err, apperrors.ErrMalformedIndex))
		})
	}
}

func TestManifest(t *testing.T) {
	m := &Manifest{
		Version:   FormatVersion,
		Scheme:    "v2/literal/1",
		PrefixLen: 1,
		BucketIDs: []string{"74", "66", "61", "66"},
	}
	data, err := EncodeManifest(m)
	require.NoError(t, err)

	back, err := DecodeManifest(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"61", "66", "74"}, back.BucketIDs)
	assert.True(t, back.Has("66"))
	assert.False(t, back.Has("67"))

	_, err = DecodeManifest([]byte(`{"version":1}`))
	assert.True(t, errors.Is(err, apperrors.ErrMalformedIndex))
	_, err = DecodeManifest([]byte(`{"version":9,"scheme":"v2/literal/1"}`))
	assert.True(t, errors.Is(err, apperrors.ErrMalformedIndex))
}

func TestShardName(t *testing.T) {
	assert.Equal(t, "shard_66.json", ShardName("66"))
}
