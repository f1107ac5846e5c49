package engine

import (
	"fmt"
	"strings"

	"pg-pointage/backend/internal/model"
)

// Template 异常描述模板编号
// 描述为法语规范文本，前端按占位符提取后自行本地化
type Template int

const (
	TplLate Template = iota
	TplEarlyDeparture
	TplInsufficientDuration
	TplMissingArrival
	TplMissingArrivalFrequency
	TplMissingDeparture
	TplMissingDepartureFrequency
	TplConsecutive
	TplExcessScans
	TplOutInactiveSite
	TplOutNotLinked
	TplOutNoActiveSchedule
	TplOutNoScheduleForDay
	TplOutNoWindow
)

var templates = map[Template]string{
	TplLate:                      "Retard de %d minutes.",
	TplEarlyDeparture:            "Départ anticipé de %d minutes.",
	TplInsufficientDuration:      "Durée insuffisante: %d minutes au lieu de %d minutes minimum (tolérance: %d%%).",
	TplMissingArrival:            "Arrivée manquante selon le planning (heure prévue: %s).",
	TplMissingArrivalFrequency:   "Pointage manquant selon le planning fréquence (durée prévue: %d minutes).",
	TplMissingDeparture:          "Départ manquant selon le planning (heure prévue: %s).",
	TplMissingDepartureFrequency: "Départ manquant selon le planning fréquence (durée prévue: %d minutes).",
	TplConsecutive:               "Pointage %s consécutif détecté. Dernier pointage: %s",
	TplExcessScans:               "Scan multiple (%s)",
	TplOutInactiveSite:           "Pointage hors planning: le site est inactif.",
	TplOutNotLinked:              "Pointage hors planning: l'employé n'est pas rattaché à ce site.",
	TplOutNoActiveSchedule:       "Pointage hors planning: l'employé n'a pas de planning actif sur ce site.",
	TplOutNoScheduleForDay:       "Pointage hors planning: aucun planning n'est défini pour le jour %s.",
	TplOutNoWindow:               "Pointage hors planning: l'heure %s (%s) ne correspond à aucune plage horaire. Plages disponibles: %s.",
}

// Describe 用占位参数填充模板
func Describe(t Template, args ...interface{}) string {
	return fmt.Sprintf(templates[t], args...)
}

// 班型描述
const (
	ShapeFullDay   = "journée complète"
	ShapeMorning   = "demi-journée matin"
	ShapeAfternoon = "demi-journée après-midi"
	ShapeFrequency = "fréquence"
)

var weekdayNames = [7]string{"Lundi", "Mardi", "Mercredi", "Jeudi", "Vendredi", "Samedi", "Dimanche"}

// WeekdayName 星期序号（0 = 周一）对应的法语名称
func WeekdayName(wd int) string {
	if wd < 0 || wd > 6 {
		return ""
	}
	return weekdayNames[wd]
}

// KindLabel 打卡类型的展示名
func KindLabel(kind string) string {
	if kind == model.ScanKindDeparture {
		return "Départ"
	}
	return "Arrivée"
}

// rangesLabel 列出候选排班的可用时段
func rangesLabel(cands []Candidate) string {
	var parts []string
	for _, c := range cands {
		if c.Fixed() {
			for _, w := range Windows(c.Day) {
				parts = append(parts, w.String())
			}
			continue
		}
		parts = append(parts, fmt.Sprintf("fréquence de %d minutes", ExpectedDuration(c.Day)))
	}
	if len(parts) == 0 {
		return "aucune plage horaire définie"
	}
	return strings.Join(parts, ", ")
}
