/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package backup

import "fmt"

// keyspace builds the shared-store key namespace for one connector instance.
// Every key is prefixed with the instance id so multiple connector
// configurations can safely share a bucket.
type keyspace struct {
	instance string
}

func (k keyspace) prefix(suffix string) string {
	return fmt.Sprintf("vaultradar.%s.%s", k.instance, suffix)
}

func (k keyspace) token() string         { return k.prefix("token") }
func (k keyspace) lock() string          { return k.prefix("lock") }
func (k keyspace) rootPartner() string   { return k.prefix("root-partner") }
func (k keyspace) devices() string       { return k.prefix("devices") }
func (k keyspace) partners() string      { return k.prefix("partners") }
func (k keyspace) recoveryIndex() string { return k.prefix("recovery-enabled") }
func (k keyspace) history(id int64) string {
	return k.prefix(fmt.Sprintf("history.%d", id))
}
func (k keyspace) storageNode(id int64) string {
	return k.prefix(fmt.Sprintf("node.%d", id))
}
func (k keyspace) deviceErrors(id int64) string {
	return k.prefix(fmt.Sprintf("errors.%d", id))
}
func (k keyspace) recovery(id int64) string {
	return k.prefix(fmt.Sprintf("recovery.%d", id))
}
