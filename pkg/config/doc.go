/*
Package config loads and validates the tarn configuration file.

Configuration is plain YAML layered over built-in defaults: Load reads
the file (an empty path means defaults only), unmarshals it on top of
Default() and validates the result, so a config file only needs the
fields it wants to change.

# Configuration File

	dataPath: /var/lib/tarn/tarn.db
	repository: analytics
	defaultBranch: main
	warehouse:
	  root: s3://warehouse/
	  objectDir: /var/lib/tarn/warehouse
	tasks:
	  workers: 8
	  successTTL: 30m
	log:
	  level: info
	  json: true

Durations use Go syntax ("30s", "5m", "1h30m"). Zero or omitted task
tuning fields fall back to the task-cache package defaults.

# Defaults

Without a config file tarn stores its repository in ~/.tarn/tarn.db,
uses repository name "default" with branch "main", and addresses
metadata files under the file://tarn/ warehouse root backed by
~/.tarn/warehouse. Paths beginning with "~" are expanded against the
invoking user's home directory via ExpandedDataPath and
ExpandedObjectDir.

# Integration Points

  - cmd/tarn: loads the file named by --config before opening the store
  - pkg/log: LogConfig() translates the log section into a log.Config
  - pkg/tasks: the tasks section maps onto tasks.Config
  - pkg/objio: warehouse.root and warehouse.objectDir configure the
    local object store prefix and backing directory

# See Also

  - YAML library: https://github.com/go-yaml/yaml
*/
package config
