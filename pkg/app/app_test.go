package app

import (
	"errors"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cliflag "k8s.io/component-base/cli/flag"
)

type testOptions struct {
	Year      int `mapstructure:"year"`
	completed bool
	invalid   bool
}

func (o *testOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("report")
	fs.IntVar(&o.Year, "year", o.Year, "Reporting year.")
	return fss
}

func (o *testOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *testOptions) Validate() error {
	if o.invalid {
		return errors.New("invalid options")
	}
	return nil
}

func TestAppRunsCompleteValidateAndRun(t *testing.T) {
	opts := &testOptions{Year: 2024}
	ran := false

	a := NewApp("eco-test", "test app",
		WithOptions(opts),
		WithNoConfig(),
		WithDefaultValidArgs(),
		WithRunFunc(func() error {
			ran = true
			return nil
		}),
	)

	cmd := a.Command()
	cmd.SetArgs([]string{"--year", "2025"})
	require.NoError(t, cmd.Execute())

	assert.True(t, ran)
	assert.True(t, opts.completed)
	assert.Equal(t, 2025, opts.Year)
}

func TestAppStopsOnValidationError(t *testing.T) {
	opts := &testOptions{invalid: true}
	ran := false

	a := NewApp("eco-test", "test app",
		WithOptions(opts),
		WithNoConfig(),
		WithRunFunc(func() error {
			ran = true
			return nil
		}),
	)

	cmd := a.Command()
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())
	assert.False(t, ran)
}

func TestDefaultValidArgsRejectsPositionalArgs(t *testing.T) {
	a := NewApp("eco-test", "test app",
		WithOptions(&testOptions{}),
		WithNoConfig(),
		WithDefaultValidArgs(),
		WithRunFunc(func() error { return nil }),
	)

	cmd := a.Command()
	cmd.SetArgs([]string{"unexpected"})
	assert.Error(t, cmd.Execute())
}

func TestFlagsAreRegistered(t *testing.T) {
	a := NewApp("eco-test", "test app", WithOptions(&testOptions{}), WithRunFunc(func() error { return nil }))

	var names []string
	a.Command().Flags().VisitAll(func(f *pflag.Flag) { names = append(names, f.Name) })

	assert.Contains(t, names, "year")
	assert.Contains(t, names, "config")
}
