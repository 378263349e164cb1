package modeconfig

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// rawTable is a decoded TOML table kept generic so the merge law below
// can operate on raw keys without a fixed schema, mirroring the
// upstream merge step operating on an untyped toml::Table.
type rawTable = map[string]interface{}

// rawDocument is the decoded shape of the {config, game_list, powersave,
// balance, performance, fast} document from spec §4.5.
type rawDocument struct {
	Config      rawTable
	GameList    rawTable
	Powersave   rawTable
	Balance     rawTable
	Performance rawTable
	Fast        rawTable
}

func decodeRawDocument(data []byte) (rawDocument, error) {
	var doc map[string]interface{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return rawDocument{}, fmt.Errorf("modeconfig: parse toml: %w", err)
	}
	return rawDocument{
		Config:      asTable(doc["config"]),
		GameList:    asTable(doc["game_list"]),
		Powersave:   asTable(doc["powersave"]),
		Balance:     asTable(doc["balance"]),
		Performance: asTable(doc["performance"]),
		Fast:        asTable(doc["fast"]),
	}, nil
}

func asTable(v interface{}) rawTable {
	if t, ok := v.(map[string]interface{}); ok {
		return t
	}
	return rawTable{}
}

// mergeDocuments implements the spec §4.5/§9 merge law: when keep_std is
// set, every section but game_list comes wholesale from the standard
// profile. game_list is always taken from the user document as is; every
// other section is otherwise overlaid key-by-key, keeping the user's
// value only for keys the standard profile already defines.
func mergeDocuments(std, user rawDocument) rawDocument {
	if toBool(user.Config["keep_std"]) {
		return rawDocument{
			Config:      std.Config,
			GameList:    user.GameList,
			Powersave:   std.Powersave,
			Balance:     std.Balance,
			Performance: std.Performance,
			Fast:        std.Fast,
		}
	}

	return rawDocument{
		Config:      tableOverlay(std.Config, user.Config),
		GameList:    user.GameList,
		Powersave:   tableOverlay(std.Powersave, user.Powersave),
		Balance:     tableOverlay(std.Balance, user.Balance),
		Performance: tableOverlay(std.Performance, user.Performance),
		Fast:        tableOverlay(std.Fast, user.Fast),
	}
}

// tableOverlay starts from std and replaces keys the user also set,
// preserving standard keys the user didn't set and never inventing new
// ones the standard profile doesn't already define.
func tableOverlay(std, user rawTable) rawTable {
	out := make(rawTable, len(std))
	for k, v := range std {
		out[k] = v
	}
	for k, v := range user {
		if _, present := std[k]; present {
			out[k] = v
		}
	}
	return out
}

func toBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
