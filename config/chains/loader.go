package chains

import (
	"io/ioutil"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "chains")

// LoadProfilesFile reads a YAML list of profiles and merges it onto the
// registry. Existing chains are overridden field by field starting from their
// compiled-in values; unknown chain ids register new profiles.
func LoadProfilesFile(path string) error {
	raw, err := ioutil.ReadFile(path) // #nosec G304
	if err != nil {
		return errors.Wrap(err, "read chains config file")
	}
	var overrides []*Profile
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return errors.Wrap(err, "parse chains config file")
	}
	for _, o := range overrides {
		merged := o
		if existing, err := ById(o.Id); err == nil {
			merged = existing.Copy()
			if o.Name != "" {
				merged.Name = o.Name
			}
			if o.NativeSymbol != "" {
				merged.NativeSymbol = o.NativeSymbol
			}
			if o.NativeDecimals != 0 {
				merged.NativeDecimals = o.NativeDecimals
			}
			if len(o.RpcEndpoints) > 0 {
				merged.RpcEndpoints = o.RpcEndpoints
			}
			if o.MulticallHex != "" {
				merged.MulticallHex = o.MulticallHex
			}
			if o.LogChunkSize != 0 {
				merged.LogChunkSize = o.LogChunkSize
			}
			if o.ScannerConcurrency != 0 {
				merged.ScannerConcurrency = o.ScannerConcurrency
			}
			if o.StartBlock != 0 {
				merged.StartBlock = o.StartBlock
			}
			if o.ExplorerURL != "" {
				merged.ExplorerURL = o.ExplorerURL
			}
		}
		if err := Register(merged); err != nil {
			return errors.Wrapf(err, "register chain %d from %s", o.Id, path)
		}
		log.WithFields(logrus.Fields{
			"chainId": merged.Id,
			"name":    merged.Name,
		}).Info("Loaded chain profile from file")
	}
	return nil
}
