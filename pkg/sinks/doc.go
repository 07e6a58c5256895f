// Package sinks содержит ветки публикации: запись потока в файл и отправку
// RTP по UDP.
//
// Обе ветки принимают EOS в любой момент как запрос завершить работу:
// запись сбрасывает буферы и закрывает файл, отправка прекращается. Ошибка
// ввода-вывода публикуется на шину хоста один раз, после чего ветка
// отклоняет данные до остановки.
package sinks
