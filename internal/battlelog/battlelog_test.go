package battlelog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		tag  language.Tag
		line Line
		want string
	}{
		{"damage", language.English, New(KeySpellDamage, Text("Magic Arrow"), Number(30)), "Magic Arrow does 30 damage."},
		{"one perishes named", language.English, New(KeyPerishOne, Text("Pikeman")), "One Pikeman perishes."},
		{"many perish collective", language.English, New(KeyPerishMany, Number(4), Ref(KeyCreatures)), "4 creatures perish."},
		{"portuguese", language.BrazilianPortuguese, New(KeyPerishMany, Number(2), Ref(KeyCreatures)), "2 criaturas perecem."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.tag, tt.line))
		})
	}
}

func TestRenderAll(t *testing.T) {
	out := RenderAll(language.English, []Line{
		New(KeySpellDamage, Text("Lightning Bolt"), Number(50)),
		New(KeyPerishOne, Ref(KeyCreature)),
	})
	assert.Equal(t, "Lightning Bolt does 50 damage.\nOne creature perishes.", out)
}

func TestLine_JSONKeepsNumbers(t *testing.T) {
	in := New(KeyPerishMany, Number(3), Text("Archers"))
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Line
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
	assert.Equal(t, "3 Archers perish.", Render(language.English, out))
}
