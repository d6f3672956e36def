package battlelog

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.English

	message.SetString(lang, KeySpellDamage, "%s does %d damage.")
	message.SetString(lang, KeySpellHeal, "%s restores %d health.")
	message.SetString(lang, KeySpellRaise, "%d %s rise again.")
	message.SetString(lang, KeySpellMove, "%s is teleported.")
	message.SetString(lang, KeyPerishOne, "One %s perishes.")
	message.SetString(lang, KeyPerishMany, "%d %s perish.")
	message.SetString(lang, KeyRebirth, "%d %s rise from the ashes.")
	message.SetString(lang, KeyCreature, "creature")
	message.SetString(lang, KeyCreatures, "creatures")
	message.SetString(lang, KeyActionFailed, "Action failed: %s")
}
