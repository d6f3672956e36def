package battlelog

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.BrazilianPortuguese

	message.SetString(lang, KeySpellDamage, "%s causa %d de dano.")
	message.SetString(lang, KeySpellHeal, "%s restaura %d de vida.")
	message.SetString(lang, KeySpellRaise, "%d %s voltam à vida.")
	message.SetString(lang, KeySpellMove, "%s é teleportado.")
	message.SetString(lang, KeyPerishOne, "Um %s perece.")
	message.SetString(lang, KeyPerishMany, "%d %s perecem.")
	message.SetString(lang, KeyRebirth, "%d %s renascem das cinzas.")
	message.SetString(lang, KeyCreature, "criatura")
	message.SetString(lang, KeyCreatures, "criaturas")
	message.SetString(lang, KeyActionFailed, "Ação falhou: %s")
}
