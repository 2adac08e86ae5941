// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

/*
Package main is tandemctl, the command line client for a Tandem server.

	tandemctl token --user <uuid> [--name <display name>]
	tandemctl matches list
	tandemctl matches create --counterpart <uuid> [--note <text>]
	tandemctl matches update <id> [--status accepted] [--note <text>]
	tandemctl matches delete <id>
	tandemctl profile get <uuid>
	tandemctl profile put --name <display name> [--avatar <url>] [--bio <text>]
	tandemctl health
	tandemctl watch [--once]

Settings come from the same layered configuration as the server (defaults,
CONFIG_PATH YAML file, environment). The client section is read from
TANDEM_SERVER_URL, TANDEM_TOKEN, TANDEM_CACHE_PATH and friends; --server and
--token override them.

watch keeps an optimistic copy of the caller's matches, follows the realtime
gateway, and prints one line per change. With TANDEM_CACHE_PATH set the copy
is stored in Badger and restored on the next start.

Command output goes to stdout as JSON; logs go to stderr.
*/
package main
