// Package catalog は予測対象の商品カタログを提供する。
// 予測サービスの学習データに含まれる商品名の一覧であり、
// UIのセレクトボックスにそのまま流し込める形で公開する。
package catalog

// products は予測サービスが認識する商品名の一覧。表示順は固定。
var products = []string{
	"12 MACARON", "ARMORICAIN", "ARTICLE 295", "BAGUETTE", "BAGUETTE APERO", "BAGUETTE GRAINE", "BANETTE",
	"BANETTINE", "BOISSON 33CL", "BOTTEREAU", "BOULE 200G", "BOULE 400G", "BOULE POLKA", "BRIOCHE",
	"BRIOCHE DE NOEL", "BRIOCHETTE", "BROWNIES", "BUCHE 4PERS", "BUCHE 6PERS", "BUCHE 8PERS", "CAFE OU EAU",
	"CAKE", "CAMPAGNE", "CARAMEL NOIX", "CEREAL BAGUETTE", "CHAUSSON AUX POMMES", "CHOCOLAT", "CHOU CHANTILLY",
	"COMPLET", "COOKIE", "COUPE", "CROISSANT", "CROISSANT AMANDES", "CRUMBLE", "CRUMBLECARAMEL OU PISTAE",
	"DELICETROPICAL", "DEMI BAGUETTE", "DEMI PAIN", "DIVERS BOISSONS", "DIVERS BOULANGERIE", "DIVERS CONFISERIE",
	"DIVERS PATISSERIE", "DIVERS SANDWICHS", "DIVERS VIENNOISERIE", "DOUCEUR D HIVER", "ECLAIR",
	"ECLAIR FRAISE PISTACHE", "ENTREMETS", "FICELLE", "FINANCIER", "FINANCIER X5", "FLAN", "FLAN ABRICOT",
	"FONDANT CHOCOLAT", "FORMULE PATE", "FORMULE PLAT PREPARE", "FORMULE SANDWICH", "FRAISIER", "FRAMBOISIER",
	"GACHE", "GAL FRANGIPANE 4P", "GAL FRANGIPANE 6P", "GAL POIRE CHOCO 4P", "GAL POIRE CHOCO 6P", "GAL POMME 4P",
	"GAL POMME 6P", "GALETTE 8 PERS", "GD FAR BRETON", "GD KOUIGN AMANN", "GD NANTAIS", "GD PLATEAU SALE",
	"GRAND FAR BRETON", "GRANDE SUCETTE", "GUERANDAIS", "KOUIGN AMANN", "MACARON", "MERINGUE", "MILLES FEUILLES",
	"MOISSON", "NANTAIS", "NID DE POULE", "NOIX JAPONAISE", "PAILLE", "PAIN", "PAIN AU CHOCOLAT", "PAIN AUX RAISINS",
	"PAIN BANETTE", "PAIN CHOCO AMANDES", "PAIN DE MIE", "PAIN GRAINES", "PAIN NOIR", "PAIN S/SEL",
	"PAIN SUISSE PEPITO", "PALET BRETON", "PALMIER", "PARIS BREST", "PATES", "PLAQUE TARTE 25P", "PLAT",
	"PLAT 6.50E", "PLAT 7.00", "PLAT 7.60E", "PLAT 8.30E", "PLATPREPARE5,50", "PLATPREPARE6,00", "PLATPREPARE6,50",
	"PLATPREPARE7,00", "PT NANTAIS", "PT PLATEAU SALE", "QUIM BREAD", "REDUCTION SUCREES 12", "REDUCTION SUCREES 24",
	"RELIGIEUSE", "ROYAL", "ROYAL 4P", "ROYAL 6P", "SABLE F  P", "SACHET DE CROUTON", "SACHET DE VIENNOISERIE",
	"SACHET VIENNOISERIE", "SAND JB", "SAND JB EMMENTAL", "SANDWICH COMPLET", "SAVARIN", "SEIGLE", "SPECIAL BREAD",
	"SPECIAL BREAD KG", "ST HONORE", "SUCETTE", "TARTE FINE", "TARTE FRAISE 4PER", "TARTE FRAISE 6P", "TARTE FRUITS 4P",
	"TARTE FRUITS 6P", "TARTELETTE", "TARTELETTE CHOC", "TARTELETTE COCKTAIL", "TARTELETTE FRAISE", "THE",
	"TRADITIONAL BAGUETTE", "TRAITEUR", "TRIANGLES", "TROIS CHOCOLAT", "TROPEZIENNE", "TROPEZIENNE FRAMBOISE",
	"TULIPE", "VIENNOISE", "VIK BREAD",
}

// List は商品名一覧のコピーを返す。
func List() []string {
	result := make([]string, len(products))
	copy(result, products)
	return result
}

// Contains は商品がカタログに含まれるかを返す。
func Contains(name string) bool {
	for _, p := range products {
		if p == name {
			return true
		}
	}
	return false
}
