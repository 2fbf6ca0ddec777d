// Copyright 2026 The shellescapefs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config_test

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/typstlabs/shellescapefs/internal/config"

	. "github.com/jacobsa/ogletest"
)

func TestConfig(t *testing.T) { RunTests(t) }

type ConfigTest struct {
	flagSet *pflag.FlagSet
}

func init() { RegisterTestSuite(&ConfigTest{}) }

func (t *ConfigTest) SetUp(ti *TestInfo) {
	viper.Reset()
	t.flagSet = pflag.NewFlagSet("shellescapefs", pflag.ContinueOnError)
	AssertEq(nil, config.BindFlags(t.flagSet))
}

func (t *ConfigTest) DefaultsMatchSpecWithNoFlagsParsed() {
	AssertEq(nil, t.flagSet.Parse(nil))

	cfg, err := config.Resolve("/mnt/point")
	AssertEq(nil, err)

	ExpectEq("/mnt/point", cfg.MountPoint)
	ExpectFalse(cfg.Debug)
	ExpectEq("sh", cfg.Shell)
	ExpectEq(time.Second, cfg.PollInterval)
	ExpectTrue(cfg.ReadOnly)
	ExpectTrue(cfg.AllowOther)
}

func (t *ConfigTest) FlagsOverrideDefaults() {
	AssertEq(nil, t.flagSet.Parse([]string{
		"--debug",
		"--shell=bash",
		"--poll-interval=50ms",
		"--read-only=false",
		"--allow-other=false",
	}))

	cfg, err := config.Resolve("/mnt/point")
	AssertEq(nil, err)

	ExpectTrue(cfg.Debug)
	ExpectEq("bash", cfg.Shell)
	ExpectEq(50*time.Millisecond, cfg.PollInterval)
	ExpectFalse(cfg.ReadOnly)
	ExpectFalse(cfg.AllowOther)
}

func (t *ConfigTest) EmptyMountPointIsRejected() {
	AssertEq(nil, t.flagSet.Parse(nil))

	_, err := config.Resolve("")
	AssertNe(nil, err)
}

func (t *ConfigTest) ZeroPollIntervalIsRejected() {
	AssertEq(nil, t.flagSet.Parse([]string{"--poll-interval=0s"}))

	_, err := config.Resolve("/mnt/point")
	AssertNe(nil, err)
}
