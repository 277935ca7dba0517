package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doxygenSample = `var searchData=
[
  ['table_20of_20contents_0',['Table of Contents',['../index.html#autotoc_md0',1,'']]],
  ['tim3_5firqhandler_4',['TIM3_IRQHandler',['../stm32f4xx__it_8h.html#ac8e51d2183b5230cbd5481f8867adce9',1,'TIM3_IRQHandler(void):&#160;stm32f4xx_it.c'],['../stm32f4xx__it_8c.html#ac8e51d2183b5230cbd5481f8867adce9',1,'TIM3_IRQHandler(void):&#160;stm32f4xx_it.c']]],
  ['tt_20imagetoangles_20py_20tt_9',['Tt ImageToAngles py tt',['../index.html#autotoc_md17',1,'3.1.5 Workspace Mapping &amp; Offset Angle Image To Angles Python (&lt;tt&gt;ImageToAngles.py&lt;/tt&gt;)'],['../index.html#autotoc_md19',1,'3.2 Python Conversion (&lt;tt&gt;ImageToAngles.py&lt;/tt&gt;)']]],
  ['the_20robot_20contraption_2',['2.1 Design of the Robot / Contraption',['../index.html#autotoc_md3',1,'']]],
  ['the_20robot_20contraption_3',['2.1 Design of the Robot / Contraption',['../index.html#autotoc_md3',1,''],['../index.html#autotoc_md4',1,'']]],
  ['it\'s_20quoted_5',['It\'s quoted',['../index.html#q',1,'']]]
];
`

func TestDecodeDoxygen(t *testing.T) {
	entries, err := DecodeDoxygen([]byte(doxygenSample))
	require.NoError(t, err)

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	assert.Equal(t, []string{
		"it_s_quoted",
		"table_of_contents",
		"the_robot_contraption",
		"tim3_irqhandler",
		"tt_imagetoangles_py_tt",
	}, keys, "keys are normalized, merged and byte-sorted")

	tim := entries[3]
	assert.Equal(t, "TIM3_IRQHandler", tim.DisplayLabel)
	require.Len(t, tim.Occurrences, 2)
	assert.Equal(t, "stm32f4xx_it.c", tim.Occurrences[0].Title)
	assert.Equal(t, "../stm32f4xx__it_8h.html#ac8e51d2183b5230cbd5481f8867adce9", tim.Occurrences[0].Anchor)

	tt := entries[4]
	require.Len(t, tt.Occurrences, 2)
	assert.Equal(t, "3.1.5 Workspace Mapping & Offset Angle Image To Angles Python (ImageToAngles.py)", tt.Occurrences[0].Title)
	assert.Equal(t, "3.2 Python Conversion (ImageToAngles.py)", tt.Occurrences[1].Title)

	robot := entries[2]
	assert.Equal(t, []Occurrence{
		{Anchor: "../index.html#autotoc_md3"},
		{Anchor: "../index.html#autotoc_md4"},
	}, robot.Occurrences, "duplicate ids merge without repeating identical occurrences")

	shard := &Shard{BucketID: "x", Entries: entries}
	assert.NoError(t, shard.Validate())
}

func TestDecodeDoxygenID(t *testing.T) {
	assert.Equal(t, "forward kinematics", decodeDoxygenID("forward_20kinematics_7"))
	assert.Equal(t, "tim3_irqhandler", decodeDoxygenID("tim3_5firqhandler_4"))
	assert.Equal(t, "fsr", decodeDoxygenID("fsr_8"))
	assert.Equal(t, "a_zz", decodeDoxygenID("a_zz_1"), "non-hex escapes are kept")
}

func TestDecodeDoxygenRejectsGarbage(t *testing.T) {
	for _, in := range []string{
		"no array here",
		"var searchData=[['x',['X',['#a',1,'']]]",
		"var searchData=[['only-id']];",
		"var searchData=[{}];",
	} {
		_, err := DecodeDoxygen([]byte(in))
		assert.Error(t, err, in)
	}
}
