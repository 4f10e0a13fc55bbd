package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/illmade-knight/backpack/pkg/schema"
	"github.com/illmade-knight/backpack/pkg/sources/usgs"
)

// sourceInfo is what the schema and topic commands need to know about a source
// without building it.
type sourceInfo struct {
	topic  string
	schema func(namespace string) *schema.Descriptor
}

var knownSources = map[string]sourceInfo{
	"usgs": {topic: usgs.DefaultTopic, schema: usgs.EarthquakeSchema},
}

func lookupSource(name string) (sourceInfo, error) {
	info, ok := knownSources[name]
	if !ok {
		names := make([]string, 0, len(knownSources))
		for n := range knownSources {
			names = append(names, n)
		}
		sort.Strings(names)
		return sourceInfo{}, fmt.Errorf("unknown source %q: known sources are %s", name, strings.Join(names, ", "))
	}
	return info, nil
}
