// Package commands defines the kvault CLI.
//
// Commands
//
//   - get KEY              Print the value stored under KEY
//   - set KEY VALUE        Store VALUE, typed with --type
//   - keys                 List every key
//   - has KEY              Report whether KEY exists
//   - rm KEY               Remove KEY
//   - clear                Remove every key
//   - encrypt              Encrypt the instance
//   - decrypt              Decrypt the instance
//   - rekey                Encrypt the instance with a new key
//
// Every command works on the instance named by --instance. The root
// command loads the config file, opens the vault when a passphrase is
// available and initializes the instance before the subcommand runs.
package commands
