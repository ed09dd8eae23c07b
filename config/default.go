package config

import (
	yaml3 "gopkg.in/yaml.v3"
	"sigs.k8s.io/kustomize/kyaml/yaml"
	"sigs.k8s.io/kustomize/kyaml/yaml/merge2"
	"sigs.k8s.io/kustomize/kyaml/yaml/walk"
)

// defaultConfig holds the user facing defaults, also written out by
// `sockspy config --generate`.
var defaultConfig = `
debug: false
verbose: 0
debugModules: []
configPath: ""
record:
  socket: ""
  output: "sockspy-record.jsonl"
  pidfile: ""
  bufferSize: 4096
  compress: false
replay:
  socket: ""
  input: "sockspy-record.jsonl"
  drainTimeout: 1s
  readSize: 1024
  rewrites:
    - from: "/opt/omd/sites/ll/var/check_mk/rrd"
      to: "/tmp/rrd"
    - from: "rrd 174"
      to: "rrd 205"
ingest:
  input: "sockspy-record.jsonl"
  sink: "log"
  queueSize: 32
  workers: 1
  progressEvery: 10000
  sqlite:
    path: "sockspy.db"
  postgres:
    url: ""
    timescale: false
    batchSize: 100000
    tablePrefix: "rrd"
    seriesCache: 65536
  catalog:
    path: "sockspy-series.yaml"
decipher:
  input: "sockspy-record.jsonl"
  updates: false
  noColor: false
`

func GetDefaultConfig() string {
	return defaultConfig
}

func SetDefaultConfig(cfgStr string) {
	defaultConfig = cfgStr
}

// InternalConfig carries settings that are not exposed to users.
const InternalConfig = `
configPath: "."
`

func New() *Config {
	mergedConfig, err := Merge(defaultConfig, InternalConfig)
	if err != nil {
		panic(err)
	}
	config := &Config{}
	err = yaml3.Unmarshal([]byte(mergedConfig), config)
	if err != nil {
		panic(err)
	}
	return config
}

// Merge overlays destStr onto srcStr.
func Merge(srcStr, destStr string) (string, error) {
	return mergeStrings(srcStr, destStr, false, yaml.MergeOptions{})
}

// Reference: https://github.com/kubernetes-sigs/kustomize/blob/537c4fa5c2bf3292b273876f50c62ce1c81714d7/kyaml/yaml/merge2/merge2.go#L24
func mergeStrings(srcStr, destStr string, infer bool, mergeOptions yaml.MergeOptions) (string, error) {
	src, err := yaml.Parse(srcStr)
	if err != nil {
		return "", err
	}

	dest, err := yaml.Parse(destStr)
	if err != nil {
		return "", err
	}

	result, err := walk.Walker{
		Sources:               []*yaml.RNode{dest, src},
		Visitor:               merge2.Merger{},
		InferAssociativeLists: infer,
		VisitKeysAsScalars:    true,
		MergeOptions:          mergeOptions,
	}.Walk()
	if err != nil {
		return "", err
	}

	return result.String()
}
