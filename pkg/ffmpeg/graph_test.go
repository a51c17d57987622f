package ffmpeg

import (
	"testing"

	"voicestudio/pkg/dsp"

	"github.com/stretchr/testify/require"
)

func TestBuildGraphOrder(t *testing.T) {
	assert := require.New(t)

	cfg := dsp.DefaultConfig()
	cfg.DeEsser = true
	cfg.BassGainDb = 4
	cfg.TrebleGainDb = 2
	cfg.EchoMix = 30

	plan, err := dsp.NewPlan(cfg, 44100)
	assert.NoError(err)

	head, tail, ok := plan.Split(dsp.StageNormalize)
	assert.True(ok)

	g := buildGraph(head, 2)
	assert.Nil(g.reverb)
	assert.Equal("highpass=f=80.000000,"+
		"agate=threshold=0.005623:range=0:attack=1:release=100,"+
		"highshelf=f=5000.000000:g=-8.000000,"+
		"lowshelf=f=400.000000:g=4.000000,"+
		"highshelf=f=3000.000000:g=2.000000,"+
		"acompressor=threshold=0.125893:ratio=3.500000:attack=1:release=100,"+
		"aecho=1:1:250:0.100000", g.chain())

	g = buildGraph(tail, 2)
	assert.Equal("asoftclip=type=hard:threshold=0.891251", g.chain())

	assert.Equal("anull", buildGraph(nil, 1).chain())
}

func TestBuildGraphMonoReverb(t *testing.T) {
	assert := require.New(t)

	plan, err := dsp.NewPlan(dsp.Config{ChorusMix: 50, ReverbAmount: 40, VolumeGain: -3}, 16000)
	assert.NoError(err)

	g := buildGraph(plan.Stages, 1)
	assert.NotNil(g.reverb)
	assert.Equal(0.4, g.reverb.Room)
	assert.Equal(2, g.irChannels)

	assert.Equal("[0:a]agate=threshold=0.005623:range=0:attack=1:release=100,"+
		"pan=stereo|c0=c0|c1=c0,"+
		"chorus=1:1:25:0.500000:0.500000:2,"+
		"asplit=2[dry][send];"+
		"[send][1:a]afir[wet];"+
		"[dry][wet]amix=inputs=2:duration=first:dropout_transition=0:weights=1 0.150000:normalize=0,"+
		"pan=mono|c0=0.5*c0+0.5*c1,"+
		"volume=-3.000000dB[out]", g.complex())

	// stereo input is left alone
	g = buildGraph(plan.Stages, 2)
	assert.Equal(2, g.irChannels)
	assert.NotContains(g.complex(), "pan=")
}
