package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zaporter/logic-grpo/grpo"
)

func TestApplyConfigOverrides(t *testing.T) {
	config, err := ApplyConfigOverrides(grpo.DefaultConfig(), map[RedisKey]string{
		RedisGRPOGroupSize:    "8",
		RedisGRPOLearningRate: " 3e-6 ",
		RedisGRPOMaxSteps:     "250",
		RedisGRPOClipRatio:    "",
		RedisPolicyAdapter:    "ignored",
	})
	require.NoError(t, err)
	require.Equal(t, 8, config.GroupSize)
	require.Equal(t, 3e-6, config.LearningRate)
	require.Equal(t, 250, config.MaxSteps)
	// unset keys leave the file value alone
	require.Equal(t, grpo.DefaultConfig().ClipRatio, config.ClipRatio)
}

func TestApplyConfigOverridesRejectsBadValues(t *testing.T) {
	_, err := ApplyConfigOverrides(grpo.DefaultConfig(), map[RedisKey]string{RedisGRPOGroupSize: "six"})
	require.ErrorContains(t, err, "grpo:group_size")

	// parses but fails validation
	_, err = ApplyConfigOverrides(grpo.DefaultConfig(), map[RedisKey]string{RedisGRPOClipRatio: "1.5"})
	require.Error(t, err)

	_, err = ApplyConfigOverrides(grpo.DefaultConfig(), map[RedisKey]string{RedisGRPOGroupSize: "1"})
	require.Error(t, err)
}

func TestApplyPolicyOverrides(t *testing.T) {
	options, err := ApplyPolicyOverrides(DefaultRemotePolicyOptions(), map[RedisKey]string{
		RedisPolicyMaxNewTokens: "256",
		RedisPolicyTemperature:  "0.6",
	})
	require.NoError(t, err)
	require.Equal(t, 256, options.MaxNewTokens)
	require.Equal(t, 0.6, options.Temperature)

	options, err = ApplyPolicyOverrides(DefaultRemotePolicyOptions(), nil)
	require.NoError(t, err)
	require.Equal(t, DefaultRemotePolicyOptions(), options)

	_, err = ApplyPolicyOverrides(DefaultRemotePolicyOptions(), map[RedisKey]string{RedisPolicyMaxNewTokens: "0"})
	require.Error(t, err)
	_, err = ApplyPolicyOverrides(DefaultRemotePolicyOptions(), map[RedisKey]string{RedisPolicyTemperature: "hot"})
	require.Error(t, err)
}

func TestSyntaxEngineEnabled(t *testing.T) {
	require.True(t, syntaxEngineEnabled(nil))
	require.True(t, syntaxEngineEnabled(map[RedisKey]string{RedisSyntaxEnabled: "true"}))
	require.False(t, syntaxEngineEnabled(map[RedisKey]string{RedisSyntaxEnabled: "false"}))
	require.False(t, syntaxEngineEnabled(map[RedisKey]string{RedisSyntaxEnabled: "0"}))
}

func TestRouterKeys(t *testing.T) {
	require.True(t, isRouterKey("inference:enabled"))
	require.False(t, isRouterKey("inference:nope"))
	for key := range defaultRouterParams {
		require.True(t, isRouterKey(string(key)), key)
	}
	for key := range configOverrides {
		require.True(t, isRouterKey(string(key)), key)
		_, hasDefault := defaultRouterParams[key]
		require.False(t, hasDefault, key)
	}
}
